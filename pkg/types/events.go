package types

// StreamEvent is one decoded frame of the incremental response stream.
// The set of implementations is closed; the decoder never produces
// anything outside it.
type StreamEvent interface {
	streamEvent()
}

// ContentEvent carries a text or thinking delta for the open assistant record.
type ContentEvent struct {
	Content  string
	Thinking string
}

func (ContentEvent) streamEvent() {}

// ToolStartEvent opens a tool-call record.
type ToolStartEvent struct {
	CallID string
	Name   string
	Type   string
	Label  string
	Params map[string]any
	Agent  *AgentInfo
}

func (ToolStartEvent) streamEvent() {}

// ToolEndEvent closes the matching running tool-call record.
type ToolEndEvent struct {
	CallID string
	Name   string
	Status ToolStatus
	Output string
	Result map[string]any
	Diff   string
}

func (ToolEndEvent) streamEvent() {}

// PlanEvent carries an updated step plan.
type PlanEvent struct {
	Steps []PlanStep
}

func (PlanEvent) streamEvent() {}

// ErrorEvent reports a backend-side failure mid-turn.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) streamEvent() {}

// DoneEvent marks normal end of turn.
type DoneEvent struct {
	StopReason string
}

func (DoneEvent) streamEvent() {}
