package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxyhes/iflow-engine/pkg/types"
)

func newTurn(t *testing.T) *Reducer {
	t.Helper()
	r := NewReducer()
	r.BeginTurn("turn-1")
	return r
}

func TestContentOpensAssistantRecordLazily(t *testing.T) {
	r := newTurn(t)

	change := r.Apply(types.ContentEvent{Content: " world"})
	require.NotNil(t, change)
	assert.True(t, change.Appended)
	assert.Equal(t, " world", change.Delta)

	records := r.Records()
	require.Len(t, records, 1)
	assert.Equal(t, types.KindAssistant, records[0].Kind)
	assert.Equal(t, " world", records[0].Content)
	assert.True(t, records[0].IsStreaming)
}

func TestContentAppendsToOpenRecord(t *testing.T) {
	r := newTurn(t)

	r.Apply(types.ContentEvent{Content: "hello"})
	change := r.Apply(types.ContentEvent{Content: " world"})

	assert.False(t, change.Appended)
	require.Len(t, r.Records(), 1)
	assert.Equal(t, "hello world", r.Records()[0].Content)
}

func TestThinkingAccumulatesSeparately(t *testing.T) {
	r := newTurn(t)

	r.Apply(types.ContentEvent{Thinking: "considering..."})
	r.Apply(types.ContentEvent{Content: "answer", Thinking: " done"})

	rec := r.Records()[0]
	assert.Equal(t, "answer", rec.Content)
	assert.Equal(t, "considering... done", rec.Thinking)
}

func TestScenarioA(t *testing.T) {
	// send "hello", then first content delta, then done
	r := newTurn(t)
	r.AppendUser("hello", nil)

	records := r.Records()
	require.Len(t, records, 1)
	assert.Equal(t, types.KindUser, records[0].Kind)
	assert.Equal(t, "hello", records[0].Content)
	assert.False(t, records[0].IsStreaming)

	r.Apply(types.ContentEvent{Content: " world"})
	records = r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, " world", records[1].Content)
	assert.True(t, records[1].IsStreaming)

	r.Apply(types.DoneEvent{})
	assert.False(t, records[1].IsStreaming)
}

func TestScenarioBToolLifecycle(t *testing.T) {
	r := newTurn(t)

	r.Apply(types.ToolStartEvent{Name: "read_file"})
	change := r.Apply(types.ToolEndEvent{Name: "read_file", Status: types.ToolSuccess, Output: "abc"})
	require.NotNil(t, change)

	var toolRecords []*types.Record
	for _, rec := range r.Records() {
		if rec.Kind == types.KindTool {
			toolRecords = append(toolRecords, rec)
		}
	}
	require.Len(t, toolRecords, 1)
	assert.Equal(t, types.ToolSuccess, toolRecords[0].Tool.Status)
	assert.Equal(t, "abc", toolRecords[0].Tool.Output)
}

func TestToolStartDoesNotCloseOpenRecord(t *testing.T) {
	r := newTurn(t)

	r.Apply(types.ContentEvent{Content: "let me look"})
	r.Apply(types.ToolStartEvent{Name: "grep"})
	r.Apply(types.ContentEvent{Content: " ...found it"})

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "let me look ...found it", records[0].Content)
	assert.True(t, records[0].IsStreaming)
	assert.Equal(t, types.ToolRunning, records[1].Tool.Status)
}

func TestUnmatchedToolEndIsIgnored(t *testing.T) {
	// P3: no preceding tool_start means no new record and no mutation
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "hi"})

	change := r.Apply(types.ToolEndEvent{Name: "write_file", Status: types.ToolSuccess})

	assert.Nil(t, change)
	require.Len(t, r.Records(), 1)
	assert.Equal(t, types.KindAssistant, r.Records()[0].Kind)
}

func TestDuplicateToolEndIsIgnored(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ToolStartEvent{Name: "read_file"})
	r.Apply(types.ToolEndEvent{Name: "read_file", Status: types.ToolSuccess, Output: "first"})

	change := r.Apply(types.ToolEndEvent{Name: "read_file", Status: types.ToolFailed, Output: "second"})

	assert.Nil(t, change)
	tool := r.Records()[0].Tool
	assert.Equal(t, types.ToolSuccess, tool.Status)
	assert.Equal(t, "first", tool.Output)
}

func TestToolEndMatchesMostRecentRunning(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ToolStartEvent{Name: "read_file"})
	r.Apply(types.ToolStartEvent{Name: "read_file"})

	r.Apply(types.ToolEndEvent{Name: "read_file", Status: types.ToolSuccess, Output: "abc"})

	records := r.Records()
	assert.Equal(t, types.ToolRunning, records[0].Tool.Status)
	assert.Equal(t, types.ToolSuccess, records[1].Tool.Status)
}

func TestToolEndPrefersCallIDMatch(t *testing.T) {
	// Fan-out can run two same-named tools; ids disambiguate
	r := newTurn(t)
	r.Apply(types.ToolStartEvent{CallID: "c1", Name: "read_file"})
	r.Apply(types.ToolStartEvent{CallID: "c2", Name: "read_file"})

	r.Apply(types.ToolEndEvent{CallID: "c1", Name: "read_file", Status: types.ToolFailed})

	records := r.Records()
	assert.Equal(t, types.ToolFailed, records[0].Tool.Status)
	assert.Equal(t, types.ToolRunning, records[1].Tool.Status)
}

func TestPlanAppendsStandaloneRecord(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "planning"})

	r.Apply(types.PlanEvent{Steps: []types.PlanStep{{Title: "read"}, {Title: "edit"}}})

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, types.KindPlan, records[1].Kind)
	require.Len(t, records[1].Plan, 2)
	// The assistant record is still streaming
	assert.True(t, records[0].IsStreaming)
}

func TestErrorDoesNotCloseOpenRecord(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "partial answer"})

	r.Apply(types.ErrorEvent{Message: "model overloaded"})

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, types.KindError, records[1].Kind)
	assert.True(t, records[0].IsStreaming)

	// A further delta still lands on the assistant record
	r.Apply(types.ContentEvent{Content: " continues"})
	assert.Equal(t, "partial answer continues", records[0].Content)
}

func TestDoneIsIdempotent(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "hi"})

	first := r.Apply(types.DoneEvent{StopReason: "end_turn"})
	require.NotNil(t, first)
	second := r.Apply(types.DoneEvent{StopReason: "end_turn"})
	assert.Nil(t, second)

	assert.False(t, r.Records()[0].IsStreaming)
}

func TestSingleOpenRecordInvariant(t *testing.T) {
	// P2: at most one record streams at any point during reduction
	r := newTurn(t)
	events := []types.StreamEvent{
		types.ContentEvent{Content: "a"},
		types.ToolStartEvent{Name: "grep"},
		types.PlanEvent{Steps: []types.PlanStep{{Title: "x"}}},
		types.ContentEvent{Content: "b"},
		types.ToolEndEvent{Name: "grep", Status: types.ToolSuccess},
		types.ErrorEvent{Message: "blip"},
		types.DoneEvent{},
	}

	for _, ev := range events {
		r.Apply(ev)
		streaming := 0
		for _, rec := range r.Records() {
			if rec.IsStreaming {
				streaming++
			}
		}
		assert.LessOrEqual(t, streaming, 1)
	}
}

func TestUserRecordsNeverMutated(t *testing.T) {
	// P1: user content is immutable once appended
	r := newTurn(t)
	r.AppendUser("first question", nil)
	userRec := r.Records()[0]

	r.Apply(types.ContentEvent{Content: "answer"})
	r.Apply(types.DoneEvent{})
	r.BeginTurn("turn-2")
	r.AppendUser("second question", nil)
	r.Apply(types.ContentEvent{Content: "another answer"})

	assert.Equal(t, "first question", userRec.Content)
	assert.False(t, userRec.IsStreaming)
}

func TestCloseInterrupted(t *testing.T) {
	// P4: after abort no record streams and the marker terminates content
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "partial"})

	change := r.CloseInterrupted(" [interrupted]")
	require.NotNil(t, change)

	rec := r.Records()[0]
	assert.Equal(t, "partial [interrupted]", rec.Content)
	assert.False(t, rec.IsStreaming)

	// Nothing open, second close is a no-op
	assert.Nil(t, r.CloseInterrupted(" [interrupted]"))
}

func TestCloseInterruptedWithNothingOpen(t *testing.T) {
	r := newTurn(t)
	assert.Nil(t, r.CloseInterrupted(" [interrupted]"))
	assert.Empty(t, r.Records())
}

func TestClearResetsTranscript(t *testing.T) {
	r := newTurn(t)
	r.AppendUser("hello", nil)
	r.Apply(types.ContentEvent{Content: "hi"})

	r.Clear()

	assert.Empty(t, r.Records())
	// New turns work after a clear
	r.BeginTurn("turn-2")
	r.Apply(types.ContentEvent{Content: "fresh"})
	require.Len(t, r.Records(), 1)
}

func TestContentAfterDoneOpensNewRecord(t *testing.T) {
	r := newTurn(t)
	r.Apply(types.ContentEvent{Content: "first"})
	r.Apply(types.DoneEvent{})

	r.BeginTurn("turn-2")
	r.Apply(types.ContentEvent{Content: "second"})

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Content)
	assert.Equal(t, "second", records[1].Content)
	assert.False(t, records[0].IsStreaming)
	assert.True(t, records[1].IsStreaming)
}
