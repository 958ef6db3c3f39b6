// ABOUTME: Tests for the dispatch orchestrator
// ABOUTME: Covers auto-routing, direct dispatch, connection resolution, and validation

package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/store"
)

func TestDispatchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     DispatchRequest
		wantErr string
	}{
		{
			name: "valid auto",
			req:  DispatchRequest{CoordinationType: "order", CoordinationUUID: "c", UserQuery: "q"},
		},
		{
			name: "valid direct",
			req:  DispatchRequest{CoordinationType: "order", CoordinationUUID: "c", UserQuery: "q", AgentUUID: "a", SessionUUID: "s"},
		},
		{
			name:    "missing coordination type",
			req:     DispatchRequest{CoordinationUUID: "c", UserQuery: "q"},
			wantErr: "coordination_type",
		},
		{
			name:    "missing coordination uuid",
			req:     DispatchRequest{CoordinationType: "order", UserQuery: "q"},
			wantErr: "coordination_uuid",
		},
		{
			name:    "missing user query",
			req:     DispatchRequest{CoordinationType: "order", CoordinationUUID: "c"},
			wantErr: "user_query",
		},
		{
			name:    "agent without session",
			req:     DispatchRequest{CoordinationType: "order", CoordinationUUID: "c", UserQuery: "q", AgentUUID: "a"},
			wantErr: "session_uuid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDispatch_AutoNewSession(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	gw := &fakeGateway{handle: &assistant.RunHandle{
		FunctionName: "fn", TaskUUID: "task-1", AssistantID: "asst-1",
		ThreadID: "thread-new", RunID: "run-1",
	}}
	sched := &fakeScheduler{}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	res, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "where is my order?",
	})
	require.NoError(t, err)

	// A fresh session was created mid-handoff
	require.NotEmpty(t, res.SessionUUID)
	sess, err := m.GetSession(context.Background(), res.SessionUUID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInTransit, sess.Status)

	// The routing prompt embeds the query and the coordination uuid
	ask := gw.lastAsk(t)
	assert.Equal(t, "openai", ask.AssistantType)
	assert.Equal(t, "asst-1", ask.AssistantID)
	assert.Empty(t, ask.ThreadID)
	assert.Equal(t,
		"Please allocate the assigned agent for the user's query (where is my order?) with coordination_uuid (coord-1).",
		ask.UserQuery)

	// The thread parks pre-decision with no agent bound
	assert.Equal(t, "thread-new", res.ThreadID)
	assert.Equal(t, store.StatusInitial, res.Status)
	assert.Nil(t, res.Agent)
	assert.Empty(t, res.LastAssistantMessage)

	job := sched.lastJob(t)
	assert.Equal(t, res.SessionUUID, job.SessionUUID)
	assert.Equal(t, "run-1", job.RunID)
	assert.Equal(t, "thread-new", job.ThreadID)
	assert.Empty(t, job.AgentUUID)
	assert.Empty(t, job.NotifyEmail)
}

func TestDispatch_AutoExistingSession(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusActive, store.StatusCompleted)

	gw := &fakeGateway{handle: &assistant.RunHandle{
		AssistantID: "asst-1", ThreadID: threadID, RunID: "run-2",
	}}
	sched := &fakeScheduler{}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	res, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "try another agent",
		SessionUUID:      sessionUUID,
	})
	require.NoError(t, err)

	// The literal query goes out on the session's existing thread
	ask := gw.lastAsk(t)
	assert.Equal(t, "try another agent", ask.UserQuery)
	assert.Equal(t, threadID, ask.ThreadID)

	// Session re-enters handoff, thread resets to pre-decision
	sess, err := m.GetSession(context.Background(), sessionUUID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInTransit, sess.Status)
	assert.Equal(t, store.StatusInitial, res.Status)
	assert.Empty(t, res.LastAssistantMessage)
}

func TestDispatch_AutoMissingCoordination(t *testing.T) {
	m := store.NewMockStore()
	h := newTestHub(m, &fakeGateway{}, &fakeScheduler{}, &fakeNotifier{})

	_, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "missing",
		UserQuery:        "q",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatch_AutoSessionWithoutThreads(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sess, err := m.UpsertSession(context.Background(), &store.SessionUpsert{
		CoordinationUUID: "coord-1",
		Status:           store.StatusActive,
	})
	require.NoError(t, err)

	h := newTestHub(m, &fakeGateway{}, &fakeScheduler{}, &fakeNotifier{})
	_, err = h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
		SessionUUID:      sess.SessionUUID,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no threads")
}

func TestDispatch_DirectBindsAgent(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusInitial, store.StatusInitial)
	require.NoError(t, m.UpsertAgent(context.Background(), &store.Agent{
		AgentUUID:      "agent-1",
		AgentName:      "Order Tracker",
		Instructions:   "You track orders.",
		ResponseFormat: "json_schema",
		JSONSchema:     `{"name":"order"}`,
		Tools:          `[{"type":"file_search"}]`,
	}))

	gw := &fakeGateway{handle: &assistant.RunHandle{
		AssistantID: "asst-1", ThreadID: threadID, RunID: "run-3",
	}}
	sched := &fakeScheduler{}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	res, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "status of order 42?",
		AgentUUID:        "agent-1",
		SessionUUID:      sessionUUID,
	})
	require.NoError(t, err)

	sess, err := m.GetSession(context.Background(), sessionUUID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, sess.Status)

	// The ask carries the agent's stored configuration
	ask := gw.lastAsk(t)
	assert.Equal(t, "status of order 42?", ask.UserQuery)
	assert.Equal(t, "You track orders.", ask.Instructions)
	require.NotNil(t, ask.ResponseFormat)
	assert.Equal(t, "json_schema", ask.ResponseFormat.Type)
	assert.Equal(t, `{"name":"order"}`, ask.ResponseFormat.JSONSchema)
	assert.Equal(t, `[{"type":"file_search"}]`, ask.Tools)
	assert.Equal(t, "Be brief.", ask.AdditionalInstructions)

	assert.Equal(t, store.StatusDispatched, res.Status)
	assert.Empty(t, res.LastAssistantMessage)

	job := sched.lastJob(t)
	assert.Equal(t, "agent-1", job.AgentUUID)
	assert.Equal(t, "run-3", job.RunID)
}

func TestDispatch_DirectSkipsBindingWhenAssigned(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusActive, store.StatusAssigned)
	ctx := context.Background()
	require.NoError(t, m.UpsertAgent(ctx, &store.Agent{
		AgentUUID:    "agent-bound",
		Instructions: "Already bound.",
	}))
	_, err := m.UpsertThread(ctx, &store.ThreadUpsert{
		SessionUUID: sessionUUID,
		ThreadID:    threadID,
		AgentUUID:   store.Ptr("agent-bound"),
	})
	require.NoError(t, err)

	gw := &fakeGateway{handle: &assistant.RunHandle{
		AssistantID: "asst-1", ThreadID: threadID, RunID: "run-4",
	}}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	_, err = h.Dispatch(ctx, &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
		AgentUUID:        "agent-other",
		SessionUUID:      sessionUUID,
	})
	require.NoError(t, err)

	// Binding is idempotent: the existing agent stays in place
	th, err := m.GetThread(ctx, sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, "agent-bound", th.AgentUUID)
	assert.Equal(t, "Already bound.", gw.lastAsk(t).Instructions)
}

func TestDispatch_DirectConnectionOverride(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusActive, store.StatusAssigned)
	ctx := context.Background()

	// Two active connections; the newer one wins
	require.NoError(t, m.UpsertConnection(ctx, &store.Connection{
		ConnectionID: "conn-old",
		Address:      "user@example.com",
		Status:       store.ConnectionActive,
		UpdatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, m.UpsertConnection(ctx, &store.Connection{
		ConnectionID: "conn-new",
		Address:      "user@example.com",
		Status:       store.ConnectionActive,
		UpdatedAt:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}))

	gw := &fakeGateway{handle: &assistant.RunHandle{
		AssistantID: "asst-1", ThreadID: threadID, RunID: "run-5",
	}}
	sched := &fakeScheduler{}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	_, err := h.Dispatch(ctx, &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
		AgentUUID:        "agent-1",
		SessionUUID:      sessionUUID,
		ReceiverEmail:    "user@example.com",
		ConnectionID:     "conn-from-caller",
	})
	require.NoError(t, err)

	assert.Equal(t, "conn-new", gw.lastAsk(t).ConnectionID)
	assert.Empty(t, sched.lastJob(t).NotifyEmail)
}

func TestDispatch_DirectEmailFallback(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusActive, store.StatusAssigned)

	gw := &fakeGateway{handle: &assistant.RunHandle{
		AssistantID: "asst-1", ThreadID: threadID, RunID: "run-6",
	}}
	sched := &fakeScheduler{}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	_, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
		AgentUUID:        "agent-1",
		SessionUUID:      sessionUUID,
		ReceiverEmail:    "offline@example.com",
		ConnectionID:     "conn-from-caller",
	})
	require.NoError(t, err)

	// No live connection: caller's connection context stands, email is
	// carried to the reconciler
	assert.Equal(t, "conn-from-caller", gw.lastAsk(t).ConnectionID)
	assert.Equal(t, "offline@example.com", sched.lastJob(t).NotifyEmail)
}

func TestDispatch_GatewayErrorSurfaced(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	gw := &fakeGateway{askErr: fmt.Errorf("%w: overloaded", assistant.ErrGateway)}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	_, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assistant.ErrGateway)
}

func TestDispatch_SchedulerErrorSurfaced(t *testing.T) {
	m := store.NewMockStore()
	seedCoordination(t, m)
	gw := &fakeGateway{handle: &assistant.RunHandle{ThreadID: "t", RunID: "r"}}
	sched := &fakeScheduler{err: errors.New("queue closed")}
	h := newTestHub(m, gw, sched, &fakeNotifier{})

	_, err := h.Dispatch(context.Background(), &DispatchRequest{
		CoordinationType: "order",
		CoordinationUUID: "coord-1",
		UserQuery:        "q",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduling reconciliation")
}

func TestResponseFormatFor(t *testing.T) {
	tests := []struct {
		format string
		schema string
		want   *assistant.ResponseFormat
	}{
		{format: "auto", want: &assistant.ResponseFormat{Type: "auto"}},
		{format: "text", want: &assistant.ResponseFormat{Type: "text"}},
		{format: "json_object", want: &assistant.ResponseFormat{Type: "json_object"}},
		{format: "json_schema", schema: `{"a":1}`, want: &assistant.ResponseFormat{Type: "json_schema", JSONSchema: `{"a":1}`}},
		{format: "yaml", want: nil},
		{format: "", want: nil},
	}

	for _, tt := range tests {
		t.Run("format_"+tt.format, func(t *testing.T) {
			got := responseFormatFor(&store.Agent{ResponseFormat: tt.format, JSONSchema: tt.schema})
			assert.Equal(t, tt.want, got)
		})
	}
}
