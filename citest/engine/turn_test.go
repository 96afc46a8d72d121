package engine_test

import (
	"context"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lxyhes/iflow-engine/internal/backend"
	"github.com/lxyhes/iflow-engine/internal/compose"
	"github.com/lxyhes/iflow-engine/internal/engine"
	"github.com/lxyhes/iflow-engine/internal/event"
	"github.com/lxyhes/iflow-engine/internal/mockbackend"
	"github.com/lxyhes/iflow-engine/internal/retrieval"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

func newEngine(c *backend.Client) *engine.Engine {
	rcfg := types.RetrievalConfig{TopK: 3, Alpha: 0.6, MinSimilarity: 0.3, CacheTTLSec: 300}
	svc := retrieval.NewService(c, rcfg, nil)
	composer := compose.NewComposer(c, svc, "assistant", "qwen-coder")
	eng := engine.New(composer, func(ctx context.Context, req types.TurnRequest) (engine.EventStream, error) {
		return c.OpenStream(ctx, req)
	}, nil)
	eng.SetSession(types.NewID())
	eng.SetProject(types.Project{Name: "demo", Path: "/tmp/demo"})
	return eng
}

var _ = Describe("Running turns against a live backend", func() {
	var (
		eng *engine.Engine
		ctx context.Context
	)

	BeforeEach(func() {
		eng = newEngine(client)
		ctx = context.Background()
	})

	Describe("a plain greeting", func() {
		It("produces a user record and a finished assistant record", func() {
			eng.SendTurn(ctx, "hello", nil)

			records := eng.Transcript()
			Expect(records).To(HaveLen(2))
			Expect(records[0].Kind).To(Equal(types.KindUser))
			Expect(records[0].Content).To(Equal("hello"))
			Expect(records[1].Kind).To(Equal(types.KindAssistant))
			Expect(records[1].Content).To(ContainSubstring("Hello!"))
			Expect(records[1].IsStreaming).To(BeFalse())
			Expect(eng.IsLoading()).To(BeFalse())
			Expect(eng.CanAbort()).To(BeFalse())
		})

		It("accumulates thinking separately from content", func() {
			eng.SendTurn(ctx, "hello", nil)

			records := eng.Transcript()
			Expect(records[1].Thinking).To(ContainSubstring("greeted"))
			Expect(records[1].Content).NotTo(ContainSubstring("greeted"))
		})
	})

	Describe("a question that triggers retrieval", func() {
		It("splices context into the outbound text but not the transcript", func() {
			question := "Where is the add function defined?"
			eng.SendTurn(ctx, question, nil)

			records := eng.Transcript()
			Expect(records[0].Content).To(Equal(question))

			sent := mock.LastTurn()
			Expect(sent.Text).To(HavePrefix(question))
			Expect(sent.Text).To(ContainSubstring("Relevant project context:"))
			Expect(sent.Text).To(ContainSubstring("[1] demo/internal/math.go"))
		})
	})

	Describe("a turn with an attachment", func() {
		It("uploads before streaming and attaches the reference to the user record", func() {
			eng.SendTurn(ctx, "describe this screenshot", []types.UploadFile{
				{Name: "screen.png", MediaType: "image/png", Data: []byte{0x89, 0x50}},
			})

			records := eng.Transcript()
			Expect(records[0].Attachments).To(HaveLen(1))
			Expect(records[0].Attachments[0].Filename).To(Equal("screen.png"))
			Expect(records[0].Attachments[0].URL).NotTo(BeEmpty())
		})
	})

	Describe("a turn that runs a tool", func() {
		It("records the tool lifecycle with its diff", func() {
			eng.SendTurn(ctx, "please edit the add function", nil)

			var tool *types.Record
			for _, rec := range eng.Transcript() {
				if rec.Kind == types.KindTool {
					tool = rec
				}
			}
			Expect(tool).NotTo(BeNil())
			Expect(tool.Tool.Name).To(Equal("write"))
			Expect(tool.Tool.Status).To(Equal(types.ToolSuccess))
			Expect(tool.Tool.Diff).To(ContainSubstring("+\treturn a + b"))
		})

		It("keeps assistant text flowing around the tool", func() {
			eng.SendTurn(ctx, "please edit the add function", nil)

			records := eng.Transcript()
			Expect(records[1].Kind).To(Equal(types.KindAssistant))
			Expect(records[1].Content).To(ContainSubstring("fixing it now"))
			Expect(records[1].Content).To(ContainSubstring("sums its arguments"))
		})
	})

	Describe("a turn that reports a plan", func() {
		It("appends a plan record", func() {
			eng.SendTurn(ctx, "make a plan first", nil)

			var plan *types.Record
			for _, rec := range eng.Transcript() {
				if rec.Kind == types.KindPlan {
					plan = rec
				}
			}
			Expect(plan).NotTo(BeNil())
			Expect(plan.Plan).To(HaveLen(3))
		})
	})

	Describe("a turn the backend fails mid-stream", func() {
		It("surfaces the failure as an error record and still finishes", func() {
			eng.SendTurn(ctx, "crash for me", nil)

			var errRec *types.Record
			for _, rec := range eng.Transcript() {
				Expect(rec.IsStreaming).To(BeFalse())
				if rec.Kind == types.KindError {
					errRec = rec
				}
			}
			Expect(errRec).NotTo(BeNil())
			Expect(errRec.Content).To(ContainSubstring("overloaded"))
			Expect(eng.IsLoading()).To(BeFalse())
		})
	})

	Describe("clearing the transcript", func() {
		It("removes every record", func() {
			eng.SendTurn(ctx, "hello", nil)
			Expect(eng.Transcript()).NotTo(BeEmpty())

			eng.Clear()
			Expect(eng.Transcript()).To(BeEmpty())
		})
	})

	Describe("bus events", func() {
		It("publishes turn lifecycle events in order", func() {
			var sequence []event.EventType
			unsub := eng.Bus().SubscribeAll(func(e event.Event) {
				sequence = append(sequence, e.Type)
			})
			defer unsub()

			eng.SendTurn(ctx, "hello", nil)

			Expect(sequence[0]).To(Equal(event.RecordAppended))
			Expect(sequence).To(ContainElement(event.TurnStarted))
			Expect(sequence[len(sequence)-1]).To(Equal(event.TurnFinished))
		})
	})
})

var _ = Describe("Aborting a running turn", func() {
	var (
		slowServer *httptest.Server
		eng        *engine.Engine
	)

	BeforeEach(func() {
		slow := mockbackend.New(mockbackend.WithStreamDelay(40 * time.Millisecond))
		slowServer = httptest.NewServer(slow.Handler())
		eng = newEngine(backend.NewClient(slowServer.URL))
	})

	AfterEach(func() {
		slowServer.Close()
	})

	It("closes the open record with the interrupt marker", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			eng.SendTurn(context.Background(), "give me a slow answer", nil)
		}()

		Eventually(eng.CanAbort).Should(BeTrue())
		Eventually(func() bool {
			records := eng.Transcript()
			return len(records) > 1 && records[1].Content != ""
		}).Should(BeTrue())

		eng.Abort()
		Eventually(done).Should(BeClosed())

		records := eng.Transcript()
		last := records[len(records)-1]
		Expect(last.IsStreaming).To(BeFalse())
		Expect(last.Content).To(HaveSuffix(engine.InterruptMarker))
		Expect(eng.IsLoading()).To(BeFalse())
		Expect(eng.CanAbort()).To(BeFalse())
	})

	It("is a no-op when nothing is running", func() {
		before := len(eng.Transcript())
		eng.Abort()
		Expect(eng.Transcript()).To(HaveLen(before))
	})
})
