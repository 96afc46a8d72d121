package event

import "github.com/lxyhes/iflow-engine/pkg/types"

// TurnStartedData is the data for turn.started events.
type TurnStartedData struct {
	SessionID string `json:"sessionID"`
	TurnID    string `json:"turnID"`
}

// TurnFinishedData is the data for turn.finished events.
type TurnFinishedData struct {
	SessionID  string `json:"sessionID"`
	TurnID     string `json:"turnID"`
	StopReason string `json:"stopReason,omitempty"`
}

// TurnAbortedData is the data for turn.aborted events.
type TurnAbortedData struct {
	SessionID string `json:"sessionID"`
	TurnID    string `json:"turnID"`
}

// RecordAppendedData is the data for record.appended events.
type RecordAppendedData struct {
	SessionID string        `json:"sessionID"`
	Record    *types.Record `json:"record"`
}

// RecordUpdatedData is the data for record.updated events. Delta carries
// the streamed increment when the update is a content append.
type RecordUpdatedData struct {
	SessionID string        `json:"sessionID"`
	Record    *types.Record `json:"record"`
	Delta     string        `json:"delta,omitempty"`
}
