// Package backend is the HTTP client for the agent backend: it opens
// turn streams, uploads attachments, and calls the retrieval endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/internal/retrieval"
	"github.com/lxyhes/iflow-engine/internal/stream"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

// Client talks to one agent backend. The zero timeout on the stream
// client is deliberate: turn streams stay open for minutes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
		log:        logging.Component("backend"),
	}
}

// OpenStream opens one turn stream. The returned stream's Cancel aborts
// the transport; a new turn always opens a new stream.
func (c *Client) OpenStream(ctx context.Context, req types.TurnRequest) (*stream.Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request rejected: status %d", resp.StatusCode)
	}

	c.log.Debug().Str("turnID", req.TurnID).Str("session", req.SessionID).Msg("stream opened")
	return stream.New(resp.Body, cancel), nil
}

// UploadAttachments uploads files for a project in one multipart request
// and returns the stored references. It is synchronous: the turn does
// not start until every attachment is stored.
func (c *Client) UploadAttachments(ctx context.Context, project string, files []types.UploadFile) ([]types.Attachment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	endpoint := c.baseURL + "/v1/projects/" + url.PathEscape(project) + "/attachments"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("attachment upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment upload failed: status %d", resp.StatusCode)
	}

	var result struct {
		Attachments []types.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return result.Attachments, nil
}

// Retrieve calls the retrieval endpoint. Callers treat this as
// best-effort; failures here never fail a turn.
func (c *Client) Retrieve(ctx context.Context, project types.Project, query string, topK int, opts retrieval.Options) ([]retrieval.Result, error) {
	reqBody, err := json.Marshal(map[string]any{
		"project": project.Name,
		"path":    project.Path,
		"query":   query,
		"topK":    topK,
		"alpha":   opts.Alpha,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode retrieve request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/retrieve", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieve request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("retrieve call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieve call failed: status %d", resp.StatusCode)
	}

	var result struct {
		Results []retrieval.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode retrieve response: %w", err)
	}
	return result.Results, nil
}

// Ping checks backend reachability. Used by the CLI before the first
// turn; the engine itself never retries anything.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}
