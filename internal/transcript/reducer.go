// Package transcript holds the transcript state machine. The Reducer is
// the sole mutator of the record list: stream events go in, ordered
// typed records come out. It owns the invariant that at most one record
// is streaming at a time and that tool start/end events pair up.
package transcript

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// Change describes one mutation the reducer performed, so the caller can
// publish precise notifications without diffing the transcript.
type Change struct {
	Record   *types.Record
	Appended bool   // true when Record was newly added
	Delta    string // streamed increment for content appends
}

// Reducer reduces stream events into the ordered transcript. It is not
// goroutine safe; the engine serializes access.
type Reducer struct {
	records []*types.Record
	turnID  string
	openID  string // id of the open (streaming) assistant record, "" if none
	log     zerolog.Logger
}

// NewReducer creates an empty transcript reducer.
func NewReducer() *Reducer {
	return &Reducer{
		log: logging.Component("transcript"),
	}
}

// Records returns the transcript in order. Callers must treat it as
// read-only; the reducer remains the only writer.
func (r *Reducer) Records() []*types.Record {
	return r.records
}

// BeginTurn tags subsequent records with turnID. Any record left
// streaming by a previous turn stays untouched; content events only ever
// target the record the reducer itself opened for this turn.
func (r *Reducer) BeginTurn(turnID string) {
	r.turnID = turnID
	r.openID = ""
}

// AppendUser adds a completed user record. User records are never
// partial and never mutated afterwards.
func (r *Reducer) AppendUser(text string, attachments []types.Attachment) *Change {
	rec := &types.Record{
		ID:          types.NewID(),
		TurnID:      r.turnID,
		Kind:        types.KindUser,
		Content:     text,
		Time:        time.Now().UnixMilli(),
		Attachments: attachments,
	}
	r.records = append(r.records, rec)
	return &Change{Record: rec, Appended: true}
}

// AppendError adds a standalone error record. Every engine failure
// surfaces this way; there is no out-of-band error channel.
func (r *Reducer) AppendError(message string) *Change {
	rec := &types.Record{
		ID:      types.NewID(),
		TurnID:  r.turnID,
		Kind:    types.KindError,
		Content: message,
		Time:    time.Now().UnixMilli(),
	}
	r.records = append(r.records, rec)
	return &Change{Record: rec, Appended: true}
}

// Apply reduces one stream event into the transcript. The returned
// Change is nil when the event was a no-op (unmatched tool_end,
// duplicate done).
func (r *Reducer) Apply(ev types.StreamEvent) *Change {
	switch ev := ev.(type) {
	case types.ContentEvent:
		return r.applyContent(ev)
	case types.ToolStartEvent:
		return r.applyToolStart(ev)
	case types.ToolEndEvent:
		return r.applyToolEnd(ev)
	case types.PlanEvent:
		return r.applyPlan(ev)
	case types.ErrorEvent:
		// Does not close the open assistant record; a partial answer may
		// still be streaming when the backend reports the failure.
		return r.AppendError(ev.Message)
	case types.DoneEvent:
		return r.applyDone(ev)
	default:
		r.log.Warn().Msgf("unhandled stream event %T", ev)
		return nil
	}
}

// applyContent appends deltas to the open assistant record, opening one
// first when needed so the first chunk is never lost.
func (r *Reducer) applyContent(ev types.ContentEvent) *Change {
	rec := r.openRecord()
	appended := false
	if rec == nil {
		rec = &types.Record{
			ID:          types.NewID(),
			TurnID:      r.turnID,
			Kind:        types.KindAssistant,
			IsStreaming: true,
			Time:        time.Now().UnixMilli(),
		}
		r.records = append(r.records, rec)
		r.openID = rec.ID
		appended = true
	}

	rec.Content += ev.Content
	rec.Thinking += ev.Thinking

	return &Change{Record: rec, Appended: appended, Delta: ev.Content}
}

// applyToolStart appends a running tool record. The open assistant
// record keeps streaming; tool and text records interleave freely.
func (r *Reducer) applyToolStart(ev types.ToolStartEvent) *Change {
	rec := &types.Record{
		ID:     types.NewID(),
		TurnID: r.turnID,
		Kind:   types.KindTool,
		Time:   time.Now().UnixMilli(),
		Tool: &types.ToolCall{
			CallID: ev.CallID,
			Name:   ev.Name,
			Type:   ev.Type,
			Label:  ev.Label,
			Status: types.ToolRunning,
			Params: ev.Params,
			Agent:  ev.Agent,
		},
	}
	r.records = append(r.records, rec)
	return &Change{Record: rec, Appended: true}
}

// applyToolEnd closes the matching running tool record in place. Matching
// prefers the call id when both events carry one and falls back to the
// most recent running record with the same tool name. An unmatched end
// event is ignored; it never creates an orphan closed record.
func (r *Reducer) applyToolEnd(ev types.ToolEndEvent) *Change {
	rec := r.findRunningTool(ev.CallID, ev.Name)
	if rec == nil {
		r.log.Warn().Str("tool", ev.Name).Str("callID", ev.CallID).Msg("tool_end without matching running tool_start, ignoring")
		return nil
	}

	rec.Tool.Status = ev.Status
	if ev.Output != "" {
		rec.Tool.Output = ev.Output
	}
	if ev.Result != nil {
		rec.Tool.Result = ev.Result
	}
	if ev.Diff != "" {
		rec.Tool.Diff = ev.Diff
	}
	return &Change{Record: rec}
}

func (r *Reducer) applyPlan(ev types.PlanEvent) *Change {
	rec := &types.Record{
		ID:     types.NewID(),
		TurnID: r.turnID,
		Kind:   types.KindPlan,
		Time:   time.Now().UnixMilli(),
		Plan:   ev.Steps,
	}
	r.records = append(r.records, rec)
	return &Change{Record: rec, Appended: true}
}

// applyDone closes the open assistant record. This is the only normal
// way the streaming flag clears; replaying done is a no-op.
func (r *Reducer) applyDone(ev types.DoneEvent) *Change {
	rec := r.openRecord()
	if rec == nil {
		return nil
	}
	rec.IsStreaming = false
	r.openID = ""
	if ev.StopReason != "" {
		r.log.Debug().Str("stopReason", ev.StopReason).Msg("turn finished")
	}
	return &Change{Record: rec}
}

// CloseInterrupted abnormally closes the open assistant record after a
// user abort, appending the interruption marker. Must run synchronously
// with the transport cancel so no record stays streaming.
func (r *Reducer) CloseInterrupted(marker string) *Change {
	rec := r.openRecord()
	if rec == nil {
		return nil
	}
	rec.Content += marker
	rec.IsStreaming = false
	r.openID = ""
	return &Change{Record: rec, Delta: marker}
}

// Clear resets the transcript. This is the only way it shrinks.
func (r *Reducer) Clear() {
	r.records = nil
	r.openID = ""
}

// openRecord resolves the streaming assistant record, if any.
func (r *Reducer) openRecord() *types.Record {
	if r.openID == "" {
		return nil
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ID == r.openID {
			return r.records[i]
		}
	}
	return nil
}

// findRunningTool searches newest-first for the running tool record
// matching callID (preferred) or name.
func (r *Reducer) findRunningTool(callID, name string) *types.Record {
	// Id matching first: fan-out to sub-agents can run two same-named
	// tools concurrently, and ids disambiguate where names cannot.
	if callID != "" {
		for i := len(r.records) - 1; i >= 0; i-- {
			rec := r.records[i]
			if rec.Kind == types.KindTool && rec.Tool.Status == types.ToolRunning && rec.Tool.CallID == callID {
				return rec
			}
		}
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.Kind == types.KindTool && rec.Tool.Status == types.ToolRunning && rec.Tool.Name == name {
			return rec
		}
	}
	return nil
}
