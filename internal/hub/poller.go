// ABOUTME: Run poller that waits for an in-flight model run to finish
// ABOUTME: Fixed-cadence status checks under a hard wall-clock ceiling

package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/ophub/internal/assistant"
)

// awaitCompletion blocks until the run reaches the completed status, then
// fetches and returns the last assistant-authored message on the thread.
// The loop is time-bounded, not attempt-bounded: polls repeat at the
// configured cadence until the run completes or the wall-clock ceiling
// passes. No partial result is returned on timeout.
func (h *Hub) awaitCompletion(ctx context.Context, handle *assistant.RunHandle) (string, error) {
	start := time.Now()
	for {
		status, err := h.gateway.RunStatus(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("checking run %s: %w", handle.RunID, err)
		}
		if status == assistant.RunStatusCompleted {
			break
		}
		if time.Since(start) >= h.runTimeout {
			return "", fmt.Errorf("run %s did not complete within %s (last status %q)", handle.RunID, h.runTimeout, status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.pollInterval):
		}
	}

	msg, err := h.gateway.LastMessage(ctx, handle.AssistantID, handle.ThreadID, assistant.RoleAssistant)
	if err != nil {
		return "", fmt.Errorf("fetching final message for run %s: %w", handle.RunID, err)
	}
	return msg, nil
}
