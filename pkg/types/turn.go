package types

// UploadFile is one binary attachment queued for upload before a turn.
type UploadFile struct {
	Name      string
	MediaType string
	Data      []byte
}

// TurnRequest is the composed outbound payload for one turn. The context
// block, when present, is already spliced into Text; it is never shown
// to the user.
type TurnRequest struct {
	TurnID    string `json:"turnID"`
	Text      string `json:"text"`
	Path      string `json:"path"`
	SessionID string `json:"sessionID"`
	Project   string `json:"project"`
	Persona   string `json:"persona,omitempty"`
	Model     string `json:"model,omitempty"`
}
