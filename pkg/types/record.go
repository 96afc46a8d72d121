// Package types defines the shared data model for the session engine:
// transcript records, stream events, and configuration.
package types

import (
	"maps"
	"slices"

	"github.com/oklog/ulid/v2"
)

// RecordKind discriminates transcript record types.
type RecordKind string

const (
	KindUser      RecordKind = "user"
	KindAssistant RecordKind = "assistant"
	KindTool      RecordKind = "tool"
	KindPlan      RecordKind = "plan"
	KindError     RecordKind = "error"
)

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// Record is the atomic transcript unit. Content and Thinking accumulate
// while IsStreaming is true; everything else is set at creation or, for
// tool records, on the closing event.
type Record struct {
	ID          string       `json:"id"`
	TurnID      string       `json:"turnID,omitempty"`
	Kind        RecordKind   `json:"kind"`
	Content     string       `json:"content"`
	Thinking    string       `json:"thinking,omitempty"`
	IsStreaming bool         `json:"isStreaming"`
	Time        int64        `json:"time"` // creation, unix millis
	Attachments []Attachment `json:"attachments,omitempty"`
	Tool        *ToolCall    `json:"tool,omitempty"`
	Plan        []PlanStep   `json:"plan,omitempty"`
}

// Clone deep-copies the record. The engine hands clones to readers so
// the reducer can keep mutating its own records while a turn streams.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attachments = slices.Clone(r.Attachments)
	c.Plan = slices.Clone(r.Plan)
	c.Tool = r.Tool.clone()
	return &c
}

func (t *ToolCall) clone() *ToolCall {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = maps.Clone(t.Params)
	c.Result = maps.Clone(t.Result)
	if t.Agent != nil {
		agent := *t.Agent
		c.Agent = &agent
	}
	return &c
}

// ToolCall describes one backend-initiated tool invocation nested in a turn.
type ToolCall struct {
	CallID string         `json:"callID,omitempty"`
	Name   string         `json:"name"`
	Type   string         `json:"type,omitempty"` // read | write | shell | search | ...
	Label  string         `json:"label,omitempty"`
	Status ToolStatus     `json:"status"`
	Params map[string]any `json:"params,omitempty"`
	Output string         `json:"output,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Diff   string         `json:"diff,omitempty"`
	Agent  *AgentInfo     `json:"agent,omitempty"`
}

// AgentInfo attributes a tool call to a sub-agent when the backend fans out.
type AgentInfo struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// PlanStep is one entry of a plan record.
type PlanStep struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"` // pending | active | done
}

// Attachment references an uploaded file embedded in a user record.
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// NewID mints a lexicographically sortable record identifier.
func NewID() string {
	return ulid.Make().String()
}
