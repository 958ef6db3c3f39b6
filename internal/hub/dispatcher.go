// ABOUTME: Dispatch orchestrator for incoming user queries
// ABOUTME: Routes each query through auto-routing or direct dispatch and schedules reconciliation

package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/store"
)

// routingPromptFormat synthesizes the auto-routing query sent to the
// coordination assistant when no agent was chosen by the caller.
const routingPromptFormat = "Please allocate the assigned agent for the user's query (%s) with coordination_uuid (%s)."

// Dispatch routes one user query. It runs synchronously on the caller's
// goroutine and returns a provisional thread snapshot before the model
// run finishes; the scheduled reconcile job persists the final outcome.
// Upserts issued before a failure are not rolled back.
func (h *Hub) Dispatch(ctx context.Context, req *DispatchRequest) (*ProvisionalResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *ProvisionalResult
	var err error
	if req.AgentUUID != "" {
		res, err = h.dispatchDirect(ctx, req)
	} else {
		res, err = h.dispatchAuto(ctx, req)
	}
	if err != nil {
		h.logger.Error("dispatch failed",
			"coordination_uuid", req.CoordinationUUID,
			"session_uuid", req.SessionUUID,
			"agent_uuid", req.AgentUUID,
			"error", err)
		return nil, err
	}
	return res, nil
}

// dispatchAuto handles queries with no agent chosen: the coordination's
// assistant is asked to pick one, and the thread parks in status initial
// until the routing decision is reconciled.
func (h *Hub) dispatchAuto(ctx context.Context, req *DispatchRequest) (*ProvisionalResult, error) {
	var sess *store.Session
	var threadID string
	userQuery := req.UserQuery

	if req.SessionUUID != "" {
		var err error
		sess, err = h.store.UpsertSession(ctx, &store.SessionUpsert{
			CoordinationUUID: req.CoordinationUUID,
			SessionUUID:      req.SessionUUID,
			Status:           store.StatusInTransit,
			UpdatedBy:        updatedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("updating session %s: %w", req.SessionUUID, err)
		}
		if len(sess.ThreadIDs) == 0 {
			return nil, fmt.Errorf("session %s has no threads", sess.SessionUUID)
		}
		threadID = sess.ThreadIDs[0]
	} else {
		if _, err := h.store.GetCoordination(ctx, req.CoordinationType, req.CoordinationUUID); err != nil {
			return nil, fmt.Errorf("looking up coordination %s/%s: %w", req.CoordinationType, req.CoordinationUUID, err)
		}
		var err error
		sess, err = h.store.UpsertSession(ctx, &store.SessionUpsert{
			CoordinationUUID: req.CoordinationUUID,
			Status:           store.StatusInTransit,
			UpdatedBy:        updatedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		userQuery = fmt.Sprintf(routingPromptFormat, req.UserQuery, req.CoordinationUUID)
	}

	if sess.Coordination == nil {
		return nil, fmt.Errorf("session %s has no coordination record", sess.SessionUUID)
	}

	handle, err := h.gateway.Ask(ctx, &assistant.AskRequest{
		AssistantType: sess.Coordination.AssistantType,
		AssistantID:   sess.Coordination.AssistantID,
		ThreadID:      threadID,
		UserQuery:     userQuery,
		UpdatedBy:     updatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("asking routing assistant: %w", err)
	}

	up := &store.ThreadUpsert{
		SessionUUID:      sess.SessionUUID,
		ThreadID:         handle.ThreadID,
		CoordinationUUID: sess.CoordinationUUID,
		UpdatedBy:        updatedBy,
	}
	if sess.Status == store.StatusInTransit {
		// Routing decision pending: park the thread with no agent bound.
		up.AgentUUID = store.Clear
		up.LastAssistantMessage = store.Clear
		up.Status = store.StatusInitial
		up.Log = store.Clear
	}
	th, err := h.store.UpsertThread(ctx, up)
	if err != nil {
		return nil, fmt.Errorf("recording thread %s: %w", handle.ThreadID, err)
	}

	if err := h.scheduleReconcile(sess, handle, "", ""); err != nil {
		return nil, err
	}
	return snapshot(sess, th), nil
}

// dispatchDirect handles queries addressed to a known agent: the thread
// is bound to the agent if not already, and the query is dispatched with
// the agent's stored configuration.
func (h *Hub) dispatchDirect(ctx context.Context, req *DispatchRequest) (*ProvisionalResult, error) {
	sess, err := h.store.UpsertSession(ctx, &store.SessionUpsert{
		CoordinationUUID: req.CoordinationUUID,
		SessionUUID:      req.SessionUUID,
		Status:           store.StatusActive,
		UpdatedBy:        updatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("updating session %s: %w", req.SessionUUID, err)
	}
	if sess.Coordination == nil {
		return nil, fmt.Errorf("session %s has no coordination record", sess.SessionUUID)
	}
	if len(sess.ThreadIDs) == 0 {
		return nil, fmt.Errorf("session %s has no threads", sess.SessionUUID)
	}

	th, err := h.store.GetThread(ctx, sess.SessionUUID, sess.ThreadIDs[0])
	if err != nil {
		return nil, fmt.Errorf("looking up thread %s: %w", sess.ThreadIDs[0], err)
	}

	// Binding is idempotent: an already-assigned thread is left alone.
	if th.Status != store.StatusAssigned {
		th, err = h.store.UpsertThread(ctx, &store.ThreadUpsert{
			SessionUUID:      sess.SessionUUID,
			ThreadID:         th.ThreadID,
			CoordinationUUID: sess.CoordinationUUID,
			AgentUUID:        store.Ptr(req.AgentUUID),
			Status:           store.StatusAssigned,
			Log:              store.Clear,
			UpdatedBy:        updatedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("binding agent %s: %w", req.AgentUUID, err)
		}
	}

	ask := &assistant.AskRequest{
		AssistantType:          sess.Coordination.AssistantType,
		AssistantID:            sess.Coordination.AssistantID,
		ThreadID:               th.ThreadID,
		UserQuery:              req.UserQuery,
		AdditionalInstructions: sess.Coordination.AdditionalInstructions,
		UpdatedBy:              updatedBy,
	}
	if th.Agent != nil {
		ask.Instructions = th.Agent.Instructions
		ask.ResponseFormat = responseFormatFor(th.Agent)
		ask.Tools = th.Agent.Tools
	}

	connectionID := req.ConnectionID
	notifyEmail := ""
	if req.ReceiverEmail != "" {
		conn, err := h.store.FindLiveConnection(ctx, req.ReceiverEmail)
		switch {
		case err == nil:
			connectionID = conn.ConnectionID
		case errors.Is(err, store.ErrNotFound):
			notifyEmail = req.ReceiverEmail
		default:
			return nil, fmt.Errorf("resolving connection for %s: %w", req.ReceiverEmail, err)
		}
	}
	ask.ConnectionID = connectionID

	handle, err := h.gateway.Ask(ctx, ask)
	if err != nil {
		return nil, fmt.Errorf("asking agent %s: %w", req.AgentUUID, err)
	}

	th, err = h.store.UpsertThread(ctx, &store.ThreadUpsert{
		SessionUUID:          sess.SessionUUID,
		ThreadID:             handle.ThreadID,
		CoordinationUUID:     sess.CoordinationUUID,
		LastAssistantMessage: store.Clear,
		Status:               store.StatusDispatched,
		UpdatedBy:            updatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("recording thread %s: %w", handle.ThreadID, err)
	}

	if err := h.scheduleReconcile(sess, handle, req.AgentUUID, notifyEmail); err != nil {
		return nil, err
	}
	return snapshot(sess, th), nil
}

func (h *Hub) scheduleReconcile(sess *store.Session, handle *assistant.RunHandle, agentUUID, notifyEmail string) error {
	job := &ReconcileJob{
		SessionUUID:      sess.SessionUUID,
		CoordinationUUID: sess.CoordinationUUID,
		FunctionName:     handle.FunctionName,
		TaskUUID:         handle.TaskUUID,
		AssistantID:      handle.AssistantID,
		ThreadID:         handle.ThreadID,
		RunID:            handle.RunID,
		AgentUUID:        agentUUID,
		NotifyEmail:      notifyEmail,
	}
	if err := h.scheduler.Schedule(ReconcileJobName, job); err != nil {
		return fmt.Errorf("scheduling reconciliation for run %s: %w", handle.RunID, err)
	}
	h.logger.Info("reconciliation scheduled",
		"session_uuid", sess.SessionUUID,
		"thread_id", handle.ThreadID,
		"run_id", handle.RunID)
	return nil
}

// responseFormatFor maps the agent's stored response_format value to the
// gateway variable. Values outside the known set (including empty) omit
// the variable rather than erroring.
func responseFormatFor(a *store.Agent) *assistant.ResponseFormat {
	switch a.ResponseFormat {
	case "auto", "text", "json_object":
		return &assistant.ResponseFormat{Type: a.ResponseFormat}
	case "json_schema":
		return &assistant.ResponseFormat{Type: "json_schema", JSONSchema: a.JSONSchema}
	default:
		return nil
	}
}
