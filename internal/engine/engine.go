// Package engine owns the session state and orchestrates a turn end to
// end: compose, open the stream, reduce events into the transcript, and
// keep the loading/abort flags honest. Nothing returns an error across
// the SendTurn/Abort boundary; every failure materializes as an error
// record in the transcript.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lxyhes/iflow-engine/internal/compose"
	"github.com/lxyhes/iflow-engine/internal/event"
	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/internal/transcript"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// InterruptMarker is appended to the open assistant record when the user
// aborts a turn mid-stream.
const InterruptMarker = " [interrupted]"

// EventStream is the engine's view of one turn's stream. Satisfied by
// *stream.Stream.
type EventStream interface {
	Recv() (types.StreamEvent, error)
	Cancel()
	Close() error
}

// OpenStreamFunc opens the stream for a composed turn request.
type OpenStreamFunc func(ctx context.Context, req types.TurnRequest) (EventStream, error)

// Engine is the streaming session engine. One Engine serves one view;
// the transcript lives only in memory for its lifetime.
type Engine struct {
	composer *compose.Composer
	open     OpenStreamFunc
	bus      *event.Bus
	log      zerolog.Logger

	mu         sync.Mutex
	reducer    *transcript.Reducer
	sessionID  string
	project    types.Project
	isLoading  bool
	canAbort   bool
	active     EventStream
	activeTurn string
}

// New creates an engine. bus may be nil, in which case a private bus is
// created; renderers reach it via Bus().
func New(composer *compose.Composer, open OpenStreamFunc, bus *event.Bus) *Engine {
	if bus == nil {
		bus = event.NewBus()
	}
	return &Engine{
		composer: composer,
		open:     open,
		bus:      bus,
		reducer:  transcript.NewReducer(),
		log:      logging.Component("engine"),
	}
}

// Bus returns the event bus transcript notifications are published on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// SetSession changes the active session identifier. The transcript is
// not implicitly cleared; that is an explicit external action.
func (e *Engine) SetSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = id
}

// SetProject changes the project handle used for subsequent turns.
func (e *Engine) SetProject(p types.Project) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.project = p
}

// SessionID returns the active session identifier.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Transcript returns a snapshot of the ordered record list. Records are
// deep copies taken under the engine lock; the reducer keeps mutating
// its own records while a turn streams, so callers may read (or poll)
// the snapshot from any goroutine.
func (e *Engine) Transcript() []*types.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	records := e.reducer.Records()
	snapshot := make([]*types.Record, len(records))
	for i, rec := range records {
		snapshot[i] = rec.Clone()
	}
	return snapshot
}

// IsLoading reports whether a turn is in flight.
func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLoading
}

// CanAbort reports whether an open stream can be cancelled.
func (e *Engine) CanAbort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canAbort
}

// SendTurn runs one full turn: compose (uploads), append the user
// record, resolve retrieval context, open the stream, and reduce events
// in arrival order until the stream ends. The user record lands before
// the retrieval round trip so the typed message shows immediately. It
// blocks until the turn finishes, fails, or is aborted. Well-behaved
// callers abort any in-flight turn first; the engine does it defensively
// so two streams never write the transcript at once.
func (e *Engine) SendTurn(ctx context.Context, text string, images []types.UploadFile) {
	e.Abort()

	e.mu.Lock()
	project := e.project
	sessionID := e.sessionID
	e.isLoading = true
	e.mu.Unlock()

	req, attachments, err := e.composer.Compose(ctx, compose.Input{
		Text:      text,
		Images:    images,
		Project:   project,
		SessionID: sessionID,
	})
	if err != nil {
		e.failTurn(composeErrorMessage(err))
		return
	}

	e.mu.Lock()
	e.reducer.BeginTurn(req.TurnID)
	userChange := e.reducer.AppendUser(text, attachments)
	e.mu.Unlock()
	e.publish(userChange)

	req = e.composer.Enrich(ctx, req, project)

	s, err := e.open(ctx, req)
	if err != nil {
		e.log.Error().Err(err).Str("turnID", req.TurnID).Msg("failed to open stream")
		e.failTurn("Failed to reach the agent backend. Please try again.")
		return
	}

	e.mu.Lock()
	e.active = s
	e.activeTurn = req.TurnID
	e.canAbort = true
	e.mu.Unlock()
	e.bus.PublishSync(event.Event{
		Type: event.TurnStarted,
		Data: event.TurnStartedData{SessionID: sessionID, TurnID: req.TurnID},
	})

	e.pump(s, sessionID, req.TurnID)
}

// pump applies stream events in strict arrival order until EOF, a
// transport error, or an abort from another goroutine.
func (e *Engine) pump(s EventStream, sessionID, turnID string) {
	stopReason := ""
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.mu.Lock()
			if e.activeTurn != turnID {
				// Aborted concurrently; Abort already cleaned up.
				e.mu.Unlock()
				return
			}
			e.log.Error().Err(err).Str("turnID", turnID).Msg("stream read failed")
			closeChange := e.reducer.CloseInterrupted("")
			errChange := e.reducer.AppendError("The response stream failed: " + err.Error())
			e.clearActiveLocked()
			e.mu.Unlock()
			_ = s.Close()
			e.publish(closeChange)
			e.publish(errChange)
			return
		}

		if done, ok := ev.(types.DoneEvent); ok {
			stopReason = done.StopReason
		}

		e.mu.Lock()
		if e.activeTurn != turnID {
			e.mu.Unlock()
			return
		}
		change := e.reducer.Apply(ev)
		e.mu.Unlock()
		e.publish(change)
	}

	e.mu.Lock()
	if e.activeTurn != turnID {
		e.mu.Unlock()
		return
	}
	// A stream that ended without a done frame still closes its record.
	closeChange := e.reducer.Apply(types.DoneEvent{})
	e.clearActiveLocked()
	e.mu.Unlock()
	_ = s.Close()

	e.publish(closeChange)
	e.bus.PublishSync(event.Event{
		Type: event.TurnFinished,
		Data: event.TurnFinishedData{SessionID: sessionID, TurnID: turnID, StopReason: stopReason},
	})
}

// Abort cancels the in-flight turn, if any. The transport cancel and the
// transcript close run synchronously so no record stays streaming.
func (e *Engine) Abort() {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return
	}
	s := e.active
	turnID := e.activeTurn
	sessionID := e.sessionID
	s.Cancel()
	change := e.reducer.CloseInterrupted(InterruptMarker)
	e.clearActiveLocked()
	e.mu.Unlock()

	e.publish(change)
	e.bus.PublishSync(event.Event{
		Type: event.TurnAborted,
		Data: event.TurnAbortedData{SessionID: sessionID, TurnID: turnID},
	})
}

// Clear resets the transcript. It is the only way the transcript
// shrinks; the reducer never removes records on its own.
func (e *Engine) Clear() {
	e.Abort()
	e.mu.Lock()
	sessionID := e.sessionID
	e.reducer.Clear()
	e.mu.Unlock()
	e.bus.PublishSync(event.Event{Type: event.TranscriptCleared, Data: sessionID})
}

// failTurn records a pre-stream failure and resets the loading state.
func (e *Engine) failTurn(message string) {
	e.mu.Lock()
	change := e.reducer.AppendError(message)
	e.isLoading = false
	e.canAbort = false
	e.mu.Unlock()
	e.publish(change)
}

// clearActiveLocked resets the in-flight bookkeeping. Caller holds mu.
func (e *Engine) clearActiveLocked() {
	e.active = nil
	e.activeTurn = ""
	e.isLoading = false
	e.canAbort = false
}

// publish maps a reducer change to the matching bus event.
func (e *Engine) publish(c *transcript.Change) {
	if c == nil {
		return
	}
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()

	if c.Appended {
		e.bus.PublishSync(event.Event{
			Type: event.RecordAppended,
			Data: event.RecordAppendedData{SessionID: sessionID, Record: c.Record},
		})
		return
	}
	e.bus.PublishSync(event.Event{
		Type: event.RecordUpdated,
		Data: event.RecordUpdatedData{SessionID: sessionID, Record: c.Record, Delta: c.Delta},
	})
}

// composeErrorMessage renders a compose failure for the transcript.
func composeErrorMessage(err error) string {
	if errors.Is(err, compose.ErrNoProject) {
		return "No project selected. Pick a project before sending a message."
	}
	var uploadErr *compose.UploadError
	if errors.As(err, &uploadErr) {
		return "Attachment upload failed: " + uploadErr.Err.Error()
	}
	return "Could not start the turn: " + err.Error()
}
