// ABOUTME: HTTP JSON implementation of the assistant Gateway interface
// ABOUTME: Talks to the assistant execution engine with bearer-token auth

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HTTPGateway implements Gateway over the assistant engine's HTTP API.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway client. The token is sent as a bearer
// token on every request; timeout bounds each individual HTTP call (the
// long-running model run itself is tracked via RunStatus polling).
func NewHTTPGateway(baseURL, token string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "assistant"),
	}
}

// errorResponse is the gateway's error payload shape.
type errorResponse struct {
	Error string `json:"error"`
}

// Ask submits a user query and returns the run handle immediately.
func (g *HTTPGateway) Ask(ctx context.Context, req *AskRequest) (*RunHandle, error) {
	var handle RunHandle
	if err := g.post(ctx, "/api/ask", req, &handle); err != nil {
		return nil, err
	}
	if handle.ThreadID == "" {
		return nil, fmt.Errorf("%w: ask response missing thread_id", ErrGateway)
	}
	g.logger.Debug("assistant ask accepted",
		"thread_id", handle.ThreadID,
		"run_id", handle.RunID,
		"task_uuid", handle.TaskUUID)
	return &handle, nil
}

// RunStatus returns the current status of a run.
func (g *HTTPGateway) RunStatus(ctx context.Context, handle *RunHandle) (string, error) {
	q := url.Values{}
	q.Set("function_name", handle.FunctionName)
	q.Set("task_uuid", handle.TaskUUID)
	q.Set("assistant_id", handle.AssistantID)
	q.Set("thread_id", handle.ThreadID)
	q.Set("run_id", handle.RunID)

	var resp struct {
		Status string `json:"status"`
	}
	if err := g.get(ctx, "/api/runs/current?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// LastMessage returns the newest message on the thread authored by role.
func (g *HTTPGateway) LastMessage(ctx context.Context, assistantID, threadID, role string) (string, error) {
	q := url.Values{}
	q.Set("assistant_id", assistantID)
	q.Set("thread_id", threadID)
	q.Set("role", role)

	var resp struct {
		Message string `json:"message"`
	}
	if err := g.get(ctx, "/api/messages/last?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *HTTPGateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return g.do(req, out)
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling assistant gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%w: %s", ErrGateway, errResp.Error)
		}
		return fmt.Errorf("%w: HTTP %d", ErrGateway, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	return nil
}
