package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetrieve(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"whitespace", "   \n ", false},
		{"greeting", "hello there", false},
		{"camel case entity", "update the parseFrame logic", true},
		{"snake case entity", "rename send_turn please", true},
		{"call expression", "refactor composeTurn()", true},
		{"backticks", "change `reducer` to be lazy", true},
		{"file reference", "look at internal/stream/client.go", true},
		{"doc reference", "summarize README.md", true},
		{"question mark", "is this cached?", true},
		{"interrogative prefix", "how does cancellation work", true},
		{"explain prefix", "explain the decoder", true},
		{"long text", strings.Repeat("word ", 50), true},
		{"short statement", "fix it now", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetrieve(tt.text), "text: %q", tt.text)
		})
	}
}

func TestShouldRetrieveIsDeterministic(t *testing.T) {
	text := "how does the transcriptReducer handle tool_end?"
	first := ShouldRetrieve(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ShouldRetrieve(text))
	}
}
