package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// keyPrefixLen bounds the query prefix used in cache keys so near-identical
// long prompts share an entry.
const keyPrefixLen = 64

// dupThreshold is the similarity ratio above which two snippets count as
// near-duplicates and the later one is dropped.
const dupThreshold = 0.9

// Options carries retriever tuning forwarded on every call.
type Options struct {
	Alpha float64 `json:"alpha"`
}

// Result is one snippet returned by the retriever. Exactly one of
// Similarity or Distance is normally set; both absent means unscored.
type Result struct {
	Content    string         `json:"content"`
	Similarity *float64       `json:"similarity,omitempty"`
	Distance   *float64       `json:"distance,omitempty"`
	Metadata   ResultMetadata `json:"metadata"`
}

// ResultMetadata carries the structural hints a result may include.
type ResultMetadata struct {
	Path     string `json:"path,omitempty"`
	Function string `json:"function,omitempty"`
	Class    string `json:"class,omitempty"`
}

// Retriever is the external retrieval collaborator. The engine treats it
// as best-effort; all its failures are swallowed.
type Retriever interface {
	Retrieve(ctx context.Context, project types.Project, query string, topK int, opts Options) ([]Result, error)
}

// Service combines the gate heuristic, the cache, and the retriever into
// the single entry point the turn composer calls.
type Service struct {
	retriever Retriever
	cache     *Cache
	cfg       types.RetrievalConfig
}

// NewService creates a retrieval service. cfg must be fully populated
// (config.Load applies defaults).
func NewService(retriever Retriever, cfg types.RetrievalConfig, cache *Cache) *Service {
	if cache == nil {
		cache = NewCache(time.Duration(cfg.CacheTTLSec) * time.Second)
	}
	return &Service{
		retriever: retriever,
		cache:     cache,
		cfg:       cfg,
	}
}

// Context returns a formatted context block for the outbound text, or ""
// when the gate declines, nothing relevant is found, or retrieval fails.
// A "" result is never an error condition for the caller.
func (s *Service) Context(ctx context.Context, project types.Project, text string) string {
	if s.retriever == nil || !ShouldRetrieve(text) {
		return ""
	}

	key := cacheKey(project, text)
	if block, ok := s.cache.Get(key); ok {
		return block
	}

	results, err := s.retriever.Retrieve(ctx, project, text, s.cfg.TopK, Options{Alpha: s.cfg.Alpha})
	if err != nil {
		log := logging.Component("retrieval")
		log.Warn().Err(err).Str("project", project.Name).Msg("retrieval failed, proceeding without context")
		return ""
	}

	block := s.format(results)
	if block == "" {
		return ""
	}

	s.cache.Put(key, block)
	return block
}

// cacheKey fingerprints a (project, query-prefix) pair.
func cacheKey(project types.Project, text string) string {
	prefix := text
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	return project.Name + "\x00" + prefix
}

type scoredResult struct {
	result Result
	score  float64
}

// format builds the ranked, numbered context block from filtered results.
func (s *Service) format(results []Result) string {
	kept := make([]scoredResult, 0, len(results))
	for _, r := range results {
		score, ok := similarity(r)
		if !ok || score < s.cfg.MinSimilarity {
			continue
		}
		if isNearDuplicate(r.Content, kept) {
			continue
		}
		kept = append(kept, scoredResult{result: r, score: score})
	}

	if len(kept) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant project context:\n")
	for i, sr := range kept {
		meta := sr.result.Metadata
		b.WriteString(fmt.Sprintf("\n[%d] %s (score %.2f", i+1, meta.Path, sr.score))
		if meta.Function != "" {
			b.WriteString(", func " + meta.Function)
		}
		if meta.Class != "" {
			b.WriteString(", class " + meta.Class)
		}
		b.WriteString(")\n")
		b.WriteString(strings.TrimRight(sr.result.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// similarity resolves a result's score, deriving 1-distance when only a
// distance is reported. Unscored results are dropped.
func similarity(r Result) (float64, bool) {
	if r.Similarity != nil {
		return *r.Similarity, true
	}
	if r.Distance != nil {
		return 1 - *r.Distance, true
	}
	return 0, false
}

// isNearDuplicate reports whether content is almost identical to a snippet
// already kept. Comparison is bounded to keep levenshtein cheap on long
// snippets.
func isNearDuplicate(content string, kept []scoredResult) bool {
	const boundLen = 400
	a := bound(content, boundLen)
	for _, k := range kept {
		b := bound(k.result.Content, boundLen)
		longest := max(len(a), len(b))
		if longest == 0 {
			continue
		}
		dist := levenshtein.ComputeDistance(a, b)
		if 1-float64(dist)/float64(longest) >= dupThreshold {
			return true
		}
	}
	return false
}

func bound(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
