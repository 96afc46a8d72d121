package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxyhes/iflow-engine/pkg/types"
)

func floatPtr(f float64) *float64 { return &f }

// recordingRetriever counts calls and returns scripted results.
type recordingRetriever struct {
	calls   int
	results []Result
	err     error
}

func (r *recordingRetriever) Retrieve(_ context.Context, _ types.Project, _ string, _ int, _ Options) ([]Result, error) {
	r.calls++
	return r.results, r.err
}

func testConfig() types.RetrievalConfig {
	return types.RetrievalConfig{
		TopK:          5,
		Alpha:         0.6,
		MinSimilarity: 0.3,
		CacheTTLSec:   300,
	}
}

var testProject = types.Project{Name: "demo", Path: "/tmp/demo"}

func TestContextFormatsRankedBlock(t *testing.T) {
	retriever := &recordingRetriever{results: []Result{
		{
			Content:    "func ParseFrame(b []byte) error { ... }",
			Similarity: floatPtr(0.91),
			Metadata:   ResultMetadata{Path: "internal/stream/decode.go", Function: "ParseFrame"},
		},
		{
			Content:  "type Reducer struct { ... }",
			Distance: floatPtr(0.4),
			Metadata: ResultMetadata{Path: "internal/transcript/reducer.go", Class: "Reducer"},
		},
	}}
	svc := NewService(retriever, testConfig(), nil)

	block := svc.Context(context.Background(), testProject, "how does ParseFrame work?")

	require.NotEmpty(t, block)
	assert.Contains(t, block, "[1] internal/stream/decode.go (score 0.91, func ParseFrame)")
	assert.Contains(t, block, "[2] internal/transcript/reducer.go (score 0.60, class Reducer)")
	assert.Contains(t, block, "func ParseFrame(b []byte) error")
}

func TestContextGateDeclines(t *testing.T) {
	retriever := &recordingRetriever{}
	svc := NewService(retriever, testConfig(), nil)

	block := svc.Context(context.Background(), testProject, "thanks")

	assert.Empty(t, block)
	assert.Zero(t, retriever.calls)
}

func TestContextFiltersLowSimilarity(t *testing.T) {
	retriever := &recordingRetriever{results: []Result{
		{Content: "irrelevant", Similarity: floatPtr(0.1), Metadata: ResultMetadata{Path: "a.go"}},
		{Content: "far away", Distance: floatPtr(0.9), Metadata: ResultMetadata{Path: "b.go"}},
	}}
	svc := NewService(retriever, testConfig(), nil)

	block := svc.Context(context.Background(), testProject, "what is in a.go?")

	// Zero survivors is not an error, just no context
	assert.Empty(t, block)
	assert.Equal(t, 1, retriever.calls)
}

func TestContextDropsNearDuplicates(t *testing.T) {
	snippet := "func Apply(ev types.StreamEvent) { switch ev := ev.(type) { ... } }"
	retriever := &recordingRetriever{results: []Result{
		{Content: snippet, Similarity: floatPtr(0.9), Metadata: ResultMetadata{Path: "a.go"}},
		{Content: snippet + " ", Similarity: floatPtr(0.8), Metadata: ResultMetadata{Path: "a_copy.go"}},
	}}
	svc := NewService(retriever, testConfig(), nil)

	block := svc.Context(context.Background(), testProject, "explain Apply()")

	assert.Contains(t, block, "[1] a.go")
	assert.NotContains(t, block, "a_copy.go")
}

func TestContextCacheHitAvoidsSecondCall(t *testing.T) {
	retriever := &recordingRetriever{results: []Result{
		{Content: "cached snippet", Similarity: floatPtr(0.8), Metadata: ResultMetadata{Path: "c.go"}},
	}}
	clock := &fakeClock{now: time.Unix(5000, 0)}
	cache := NewCache(5*time.Minute, WithClock(clock.Now))
	svc := NewService(retriever, testConfig(), cache)

	query := "what does c.go do?"
	first := svc.Context(context.Background(), testProject, query)
	second := svc.Context(context.Background(), testProject, query)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, retriever.calls, "second lookup within TTL must not hit the retriever")
}

func TestContextCacheExpiryRefetches(t *testing.T) {
	retriever := &recordingRetriever{results: []Result{
		{Content: "snippet", Similarity: floatPtr(0.8), Metadata: ResultMetadata{Path: "c.go"}},
	}}
	clock := &fakeClock{now: time.Unix(5000, 0)}
	cache := NewCache(5*time.Minute, WithClock(clock.Now))
	svc := NewService(retriever, testConfig(), cache)

	query := "what does c.go do?"
	svc.Context(context.Background(), testProject, query)
	clock.Advance(6 * time.Minute)
	svc.Context(context.Background(), testProject, query)

	assert.Equal(t, 2, retriever.calls)
}

func TestContextKeyIsProjectScoped(t *testing.T) {
	retriever := &recordingRetriever{results: []Result{
		{Content: "snippet", Similarity: floatPtr(0.8), Metadata: ResultMetadata{Path: "c.go"}},
	}}
	svc := NewService(retriever, testConfig(), nil)

	query := "what does c.go do?"
	svc.Context(context.Background(), types.Project{Name: "one"}, query)
	svc.Context(context.Background(), types.Project{Name: "two"}, query)

	assert.Equal(t, 2, retriever.calls)
}

func TestContextRetrieverErrorIsSwallowed(t *testing.T) {
	retriever := &recordingRetriever{err: errors.New("connection refused")}
	svc := NewService(retriever, testConfig(), nil)

	block := svc.Context(context.Background(), testProject, "explain parseFrame()")

	assert.Empty(t, block)
}

func TestContextNilRetriever(t *testing.T) {
	svc := NewService(nil, testConfig(), nil)
	assert.Empty(t, svc.Context(context.Background(), testProject, "explain parseFrame()"))
}
