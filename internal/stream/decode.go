// Package stream consumes the incremental event stream of a turn: it
// buffers frame fragments, decodes complete frames into typed events,
// and exposes a cancellation handle that unblocks any in-flight read.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/lxyhes/iflow-engine/pkg/types"
)

// DecodeStatus is the outcome of decoding one frame line. Malformed
// frames are reported, never raised: the stream continues past them.
type DecodeStatus int

const (
	// DecodeOK means a complete event was produced.
	DecodeOK DecodeStatus = iota
	// DecodeSkip means the line carries no event (blank, comment, unknown type).
	DecodeSkip
	// DecodeMalformed means the frame could not be parsed and was dropped.
	DecodeMalformed
)

// wireFrame is the superset of fields any frame type may carry. Every
// field beyond Type is optional; absent fields decode to zero values.
type wireFrame struct {
	Type string `json:"type"`

	// content
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_start / tool_end
	CallID   string           `json:"callID,omitempty"`
	ToolName string           `json:"toolName,omitempty"`
	ToolType string           `json:"toolType,omitempty"`
	Label    string           `json:"label,omitempty"`
	Params   map[string]any   `json:"params,omitempty"`
	Status   string           `json:"status,omitempty"`
	Output   string           `json:"output,omitempty"`
	Result   map[string]any   `json:"result,omitempty"`
	Diff     string           `json:"diff,omitempty"`
	Agent    *types.AgentInfo `json:"agent,omitempty"`

	// plan
	Steps []types.PlanStep `json:"steps,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// done
	StopReason string `json:"stopReason,omitempty"`
}

// DecodeFrame decodes a single frame line. Lines may carry an optional
// "data:" prefix; blank lines and ":" comments separate frames and are
// skipped.
func DecodeFrame(line string) (types.StreamEvent, DecodeStatus) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSpace(line)

	if line == "" {
		return nil, DecodeSkip
	}
	if strings.HasPrefix(line, ":") {
		// Heartbeat comment
		return nil, DecodeSkip
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		line = strings.TrimSpace(rest)
		if line == "" {
			return nil, DecodeSkip
		}
	}

	var frame wireFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return nil, DecodeMalformed
	}

	switch frame.Type {
	case "content":
		return types.ContentEvent{Content: frame.Content, Thinking: frame.Thinking}, DecodeOK
	case "tool_start":
		return types.ToolStartEvent{
			CallID: frame.CallID,
			Name:   frame.ToolName,
			Type:   frame.ToolType,
			Label:  frame.Label,
			Params: frame.Params,
			Agent:  frame.Agent,
		}, DecodeOK
	case "tool_end":
		return types.ToolEndEvent{
			CallID: frame.CallID,
			Name:   frame.ToolName,
			Status: toolStatus(frame.Status),
			Output: frame.Output,
			Result: frame.Result,
			Diff:   frame.Diff,
		}, DecodeOK
	case "plan":
		return types.PlanEvent{Steps: frame.Steps}, DecodeOK
	case "error":
		return types.ErrorEvent{Message: frame.Message}, DecodeOK
	case "done":
		return types.DoneEvent{StopReason: frame.StopReason}, DecodeOK
	case "":
		return nil, DecodeMalformed
	default:
		// Forward-compatible: unknown frame types are not an error.
		return nil, DecodeSkip
	}
}

func toolStatus(s string) types.ToolStatus {
	if s == "failed" || s == "error" {
		return types.ToolFailed
	}
	return types.ToolSuccess
}
