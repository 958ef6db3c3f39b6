// ABOUTME: Thread reconciler that persists the outcome of a finished model run
// ABOUTME: Handles explicit-agent completion, auto-routing decisions, and the failure path

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/store"
)

// routingDecision is the structured payload the routing assistant returns
// on the auto-routing path.
type routingDecision struct {
	Status    string `json:"status"`
	AgentUUID string `json:"agent_uuid"`
	Message   string `json:"message"`
}

// HandleReconcileJob adapts Reconcile to the job runner's handler shape.
func (h *Hub) HandleReconcileJob(ctx context.Context, payload []byte) error {
	var job ReconcileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decoding reconcile job: %w", err)
	}
	return h.Reconcile(ctx, &job)
}

// Reconcile waits out the run and persists its outcome. Any failure,
// including the poll timeout, marks the thread fail with the error chain
// in its log and is returned so the job runner records the failure. The
// job queue is at-least-once, so re-deliveries of an already-reconciled
// run are suppressed by run id.
func (h *Hub) Reconcile(ctx context.Context, job *ReconcileJob) error {
	if h.seen.CheckAndMark(job.RunID) {
		h.logger.Info("duplicate reconciliation suppressed", "run_id", job.RunID, "thread_id", job.ThreadID)
		return nil
	}

	if err := h.reconcile(ctx, job); err != nil {
		h.logger.Error("reconciliation failed",
			"session_uuid", job.SessionUUID,
			"thread_id", job.ThreadID,
			"run_id", job.RunID,
			"error", err)
		h.markFailed(job, err)
		return err
	}
	return nil
}

func (h *Hub) reconcile(ctx context.Context, job *ReconcileJob) error {
	handle := &assistant.RunHandle{
		FunctionName: job.FunctionName,
		TaskUUID:     job.TaskUUID,
		AssistantID:  job.AssistantID,
		ThreadID:     job.ThreadID,
		RunID:        job.RunID,
	}
	msg, err := h.awaitCompletion(ctx, handle)
	if err != nil {
		return err
	}

	up := &store.ThreadUpsert{
		SessionUUID:      job.SessionUUID,
		ThreadID:         job.ThreadID,
		CoordinationUUID: job.CoordinationUUID,
		UpdatedBy:        updatedBy,
	}
	if job.AgentUUID != "" {
		up.AgentUUID = store.Ptr(job.AgentUUID)
		up.LastAssistantMessage = store.Ptr(msg)
		up.Status = store.StatusCompleted
	} else {
		var decision routingDecision
		if err := json.Unmarshal([]byte(msg), &decision); err != nil {
			return fmt.Errorf("decoding routing decision for run %s: %w", job.RunID, err)
		}
		if decision.Status == "" {
			return fmt.Errorf("routing decision for run %s has no status", job.RunID)
		}
		// The decision's status is persisted as-is, not forced to completed.
		if decision.Status == store.StatusAssigned {
			up.AgentUUID = store.Ptr(decision.AgentUUID)
		} else {
			up.AgentUUID = store.Clear
		}
		if decision.Status == store.StatusUnassigned {
			up.LastAssistantMessage = store.Ptr(decision.Message)
		} else {
			up.LastAssistantMessage = store.Clear
		}
		up.Status = decision.Status
	}

	th, err := h.store.UpsertThread(ctx, up)
	if err != nil {
		return fmt.Errorf("persisting reconciled thread %s: %w", job.ThreadID, err)
	}

	if job.NotifyEmail != "" {
		subject := fmt.Sprintf("Operation hub response (thread %s)", th.ThreadID)
		if err := h.notifier.Send(ctx, job.NotifyEmail, subject, msg); err != nil {
			return fmt.Errorf("notifying %s: %w", job.NotifyEmail, err)
		}
		h.logger.Info("completion notification sent",
			"notifier", h.notifier.Name(),
			"to", job.NotifyEmail,
			"thread_id", th.ThreadID)
	}

	h.logger.Info("thread reconciled",
		"session_uuid", job.SessionUUID,
		"thread_id", th.ThreadID,
		"run_id", job.RunID,
		"status", th.Status)
	return nil
}

// markFailed records the failure on the thread with a fresh context, so
// the trace survives even when the reconcile context is already dead.
func (h *Hub) markFailed(job *ReconcileJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.store.UpsertThread(ctx, &store.ThreadUpsert{
		SessionUUID:      job.SessionUUID,
		ThreadID:         job.ThreadID,
		CoordinationUUID: job.CoordinationUUID,
		Status:           store.StatusFail,
		Log:              store.Ptr(cause.Error()),
		UpdatedBy:        updatedBy,
	})
	if err != nil {
		h.logger.Error("failed to record thread failure",
			"session_uuid", job.SessionUUID,
			"thread_id", job.ThreadID,
			"error", err)
	}
}
