// Package mockbackend is a development stand-in for the agent backend.
// It speaks the same HTTP surface the real backend does: the NDJSON turn
// stream, attachment uploads, retrieval, and health. Responses are
// scripted from keywords in the user message so the CLI and the
// integration tests can exercise every frame type without a model.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/internal/retrieval"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// frame is one NDJSON stream frame. Field names match what the stream
// decoder on the client side expects.
type frame struct {
	Type string `json:"type"`

	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	CallID   string         `json:"callID,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	ToolType string         `json:"toolType,omitempty"`
	Label    string         `json:"label,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Status   string         `json:"status,omitempty"`
	Output   string         `json:"output,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Diff     string         `json:"diff,omitempty"`

	Steps []types.PlanStep `json:"steps,omitempty"`

	Message string `json:"message,omitempty"`

	StopReason string `json:"stopReason,omitempty"`
}

// Server is the mock backend HTTP server.
type Server struct {
	router chi.Router
	delay  time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	lastTurn types.TurnRequest
}

// Option configures the server.
type Option func(*Server)

// WithStreamDelay sets the pause between stream frames. Zero means no
// pause, which is what the tests want.
func WithStreamDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// New creates a mock backend server.
func New(opts ...Option) *Server {
	s := &Server{
		delay: 30 * time.Millisecond,
		log:   logging.Component("mockbackend"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/v1/health", s.handleHealth)
	r.Post("/v1/retrieve", s.handleRetrieve)
	r.Post("/v1/projects/{project}/attachments", s.handleAttachments)
	r.Post("/v1/chat/stream", s.handleChatStream)

	s.router = r
	return s
}

// Handler returns the HTTP handler, for mounting under httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LastTurn returns the most recent turn request the stream endpoint
// received. Tests use it to inspect what a client actually sent.
func (s *Server) LastTurn() types.TurnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTurn
}

// ListenAndServe starts the server on addr and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("mock backend listening")
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project string  `json:"project"`
		Path    string  `json:"path"`
		Query   string  `json:"query"`
		TopK    int     `json:"topK"`
		Alpha   float64 `json:"alpha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 3
	}

	snippets := []retrieval.Result{
		{
			Content: "func add(a, b int) int {\n\treturn a + b\n}",
			Metadata: retrieval.ResultMetadata{
				Path:     req.Project + "/internal/math.go",
				Function: "add",
			},
		},
		{
			Content: "// Calculator accumulates a running total.\ntype Calculator struct {\n\ttotal int\n}",
			Metadata: retrieval.ResultMetadata{
				Path:  req.Project + "/internal/calc.go",
				Class: "Calculator",
			},
		},
		{
			Content: "func TestAdd(t *testing.T) {\n\tif add(2, 2) != 4 {\n\t\tt.Fatal(\"add is broken\")\n\t}\n}",
			Metadata: retrieval.ResultMetadata{
				Path:     req.Project + "/internal/math_test.go",
				Function: "TestAdd",
			},
		},
	}

	results := make([]retrieval.Result, 0, req.TopK)
	for i := 0; i < req.TopK && i < len(snippets); i++ {
		r := snippets[i]
		sim := 0.95 - 0.1*float64(i)
		r.Similarity = &sim
		results = append(results, r)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}

	var attachments []types.Attachment
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			id := types.NewID()
			mediaType := header.Header.Get("Content-Type")
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}
			attachments = append(attachments, types.Attachment{
				ID:        id,
				Filename:  header.Filename,
				MediaType: mediaType,
				URL:       fmt.Sprintf("/v1/projects/%s/attachments/%s", project, id),
			})
		}
	}

	s.log.Debug().Str("project", project).Int("count", len(attachments)).Msg("stored attachments")
	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req types.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.lastTurn = req
	s.mu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	for _, f := range script(req) {
		select {
		case <-r.Context().Done():
			// Client aborted the turn.
			s.log.Debug().Str("turnID", req.TurnID).Msg("stream cancelled")
			return
		default:
		}

		line, err := json.Marshal(f)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to encode frame")
			return
		}
		fmt.Fprintf(w, "%s\n", line)
		flusher.Flush()

		if s.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.delay):
			}
		}
	}
}

// script picks the frame sequence for a turn from keywords in the text.
func script(req types.TurnRequest) []frame {
	text := strings.ToLower(req.Text)
	switch {
	case strings.Contains(text, "crash"):
		return []frame{
			{Type: "content", Content: "Let me look into that."},
			{Type: "error", Message: "model overloaded, try again later"},
			{Type: "done", StopReason: "error"},
		}
	case strings.Contains(text, "edit") || strings.Contains(text, "write"):
		return editScript()
	case strings.Contains(text, "plan"):
		return planScript()
	case strings.Contains(text, "slow"):
		// Long answer for exercising aborts.
		frames := make([]frame, 0, 42)
		for i := 0; i < 40; i++ {
			frames = append(frames, frame{Type: "content", Content: fmt.Sprintf("chunk %d ", i+1)})
		}
		return append(frames, frame{Type: "done", StopReason: "end_turn"})
	default:
		return []frame{
			{Type: "content", Thinking: "The user greeted me."},
			{Type: "content", Content: "Hello! "},
			{Type: "content", Content: "I looked at your project"},
			{Type: "content", Content: " and everything seems fine."},
			{Type: "done", StopReason: "end_turn"},
		}
	}
}

func editScript() []frame {
	callID := types.NewID()
	before := "func add(a, b int) int {\n\treturn a - b\n}\n"
	after := "func add(a, b int) int {\n\treturn a + b\n}\n"
	return []frame{
		{Type: "content", Content: "The bug is in add; fixing it now."},
		{
			Type:     "tool_start",
			CallID:   callID,
			ToolName: "write",
			ToolType: "edit",
			Label:    "internal/math.go",
			Params:   map[string]any{"path": "internal/math.go"},
		},
		{
			Type:     "tool_end",
			CallID:   callID,
			ToolName: "write",
			Status:   "success",
			Output:   "wrote internal/math.go",
			Diff:     unifiedDiff(before, after),
		},
		{Type: "content", Content: " Done, add now sums its arguments."},
		{Type: "done", StopReason: "end_turn"},
	}
}

func planScript() []frame {
	return []frame{
		{Type: "plan", Steps: []types.PlanStep{
			{Title: "Read the failing test", Status: "done"},
			{Title: "Locate the off-by-one", Status: "in_progress"},
			{Title: "Apply the fix", Status: "pending"},
		}},
		{Type: "content", Content: "Working through the plan."},
		{Type: "done", StopReason: "end_turn"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
