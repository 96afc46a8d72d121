// Package compose builds the outbound payload for a turn in two steps:
// Compose validates preconditions and uploads attachments, Enrich
// splices in retrieved context when the gate fires. The split lets the
// caller show the user's message before retrieval runs.
package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/lxyhes/iflow-engine/pkg/types"
)

// ErrNoProject is returned when a turn is attempted without a project
// handle. It is a local precondition failure; no request is made.
var ErrNoProject = errors.New("no project selected")

// UploadError wraps an attachment upload failure. The turn never starts:
// a transcript must not reference images that were not stored.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("attachment upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader stores attachments for a project before the turn starts.
type Uploader interface {
	UploadAttachments(ctx context.Context, project string, files []types.UploadFile) ([]types.Attachment, error)
}

// ContextProvider resolves an optional retrieved-context block. An empty
// block means no context; it is never an error.
type ContextProvider interface {
	Context(ctx context.Context, project types.Project, text string) string
}

// Input is one user action to compose into a turn.
type Input struct {
	Text      string
	Images    []types.UploadFile
	Project   types.Project
	SessionID string
}

// Composer merges user text, uploaded attachments, and retrieved context
// into a single turn request. It mints the turn id the rest of the
// pipeline is tagged with.
type Composer struct {
	uploader Uploader
	context  ContextProvider
	persona  string
	model    string
}

// NewComposer creates a composer. context may be nil when retrieval is
// disabled entirely.
func NewComposer(uploader Uploader, contextProvider ContextProvider, persona, model string) *Composer {
	return &Composer{
		uploader: uploader,
		context:  contextProvider,
		persona:  persona,
		model:    model,
	}
}

// Compose validates preconditions, uploads attachments, and builds the
// turn request with the user's text as typed. On success it also returns
// the attachment references to embed in the user record. Failure modes:
// ErrNoProject before any network activity, *UploadError when an
// attachment fails to store. Retrieved context is spliced later by
// Enrich, so the caller can append the user record as soon as uploads
// land instead of waiting out a retrieval round trip.
func (c *Composer) Compose(ctx context.Context, in Input) (types.TurnRequest, []types.Attachment, error) {
	if in.Project.Name == "" || in.Project.Path == "" {
		return types.TurnRequest{}, nil, ErrNoProject
	}

	var attachments []types.Attachment
	if len(in.Images) > 0 {
		uploaded, err := c.uploader.UploadAttachments(ctx, in.Project.Name, in.Images)
		if err != nil {
			return types.TurnRequest{}, nil, &UploadError{Err: err}
		}
		attachments = uploaded
	}

	req := types.TurnRequest{
		TurnID:    types.NewID(),
		Text:      in.Text,
		Path:      in.Project.Path,
		SessionID: in.SessionID,
		Project:   in.Project.Name,
		Persona:   c.persona,
		Model:     c.model,
	}
	return req, attachments, nil
}

// Enrich resolves the retrieved-context block for the request and
// splices it into the outbound text. Best effort and never an error;
// the block rides along to the backend only, the transcript keeps the
// original text. req.Text must still be the text as typed.
func (c *Composer) Enrich(ctx context.Context, req types.TurnRequest, project types.Project) types.TurnRequest {
	if c.context == nil {
		return req
	}
	if block := c.context.Context(ctx, project, req.Text); block != "" {
		req.Text = req.Text + "\n\n" + block
	}
	return req
}
