// ABOUTME: Tests for the thread reconciler
// ABOUTME: Covers both completion shapes, the failure path, dedupe, and notification

package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ophub/internal/store"
)

func reconcileFixture(t *testing.T) (*store.MockStore, string, string) {
	t.Helper()
	m := store.NewMockStore()
	seedCoordination(t, m)
	sessionUUID, threadID := seedSession(t, m, store.StatusActive, store.StatusDispatched)
	return m, sessionUUID, threadID
}

func TestReconcile_ExplicitAgent(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"in_progress", "completed"},
		message:  "Your order ships tomorrow.",
	}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-1",
		AgentUUID:        "agent-1",
	})
	require.NoError(t, err)

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, th.Status)
	assert.Equal(t, "Your order ships tomorrow.", th.LastAssistantMessage)
	assert.Equal(t, "agent-1", th.AgentUUID)
	assert.Equal(t, "AI Operation Hub", th.UpdatedBy)
}

func TestReconcile_AutoAssigned(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"completed"},
		message:  `{"status":"assigned","agent_uuid":"agent-7","message":""}`,
	}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-2",
	})
	require.NoError(t, err)

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAssigned, th.Status)
	assert.Equal(t, "agent-7", th.AgentUUID)
	assert.Empty(t, th.LastAssistantMessage)
}

func TestReconcile_AutoUnassigned(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"completed"},
		message:  `{"status":"unassigned","agent_uuid":"","message":"No agent can handle billing."}`,
	}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-3",
	})
	require.NoError(t, err)

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnassigned, th.Status)
	assert.Empty(t, th.AgentUUID)
	assert.Equal(t, "No agent can handle billing.", th.LastAssistantMessage)
}

func TestReconcile_BadDecisionPayload(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"completed"},
		message:  "I could not decide, sorry.",
	}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-4",
	})
	require.Error(t, err)

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFail, th.Status)
	assert.Contains(t, th.Log, "routing decision")
}

func TestReconcile_TimeoutMarksFail(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{statuses: []string{"in_progress"}}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-5",
		AgentUUID:        "agent-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFail, th.Status)
	assert.Contains(t, th.Log, "did not complete")
}

func TestReconcile_DuplicateSuppressed(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"completed"},
		message:  "first answer",
	}
	h := newTestHub(m, gw, &fakeScheduler{}, &fakeNotifier{})

	job := &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-6",
		AgentUUID:        "agent-1",
	}
	require.NoError(t, h.Reconcile(context.Background(), job))

	// A re-delivered job for the same run does nothing
	gw.message = "second answer"
	require.NoError(t, h.Reconcile(context.Background(), job))

	th, err := m.GetThread(context.Background(), sessionUUID, threadID)
	require.NoError(t, err)
	assert.Equal(t, "first answer", th.LastAssistantMessage)
}

func TestReconcile_NotifiesByEmail(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{
		statuses: []string{"completed"},
		message:  "Your refund is approved.",
	}
	n := &fakeNotifier{}
	h := newTestHub(m, gw, &fakeScheduler{}, n)

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-7",
		AgentUUID:        "agent-1",
		NotifyEmail:      "user@example.com",
	})
	require.NoError(t, err)

	require.Len(t, n.sends, 1)
	assert.Equal(t, "user@example.com", n.sends[0].address)
	assert.Contains(t, n.sends[0].subject, threadID)
	assert.Equal(t, "Your refund is approved.", n.sends[0].body)
}

func TestReconcile_NoEmailNoNotification(t *testing.T) {
	m, sessionUUID, threadID := reconcileFixture(t)
	gw := &fakeGateway{statuses: []string{"completed"}, message: "done"}
	n := &fakeNotifier{}
	h := newTestHub(m, gw, &fakeScheduler{}, n)

	err := h.Reconcile(context.Background(), &ReconcileJob{
		SessionUUID:      sessionUUID,
		CoordinationUUID: "coord-1",
		ThreadID:         threadID,
		RunID:            "run-8",
		AgentUUID:        "agent-1",
	})
	require.NoError(t, err)
	assert.Empty(t, n.sends)
}

func TestHandleReconcileJob_BadPayload(t *testing.T) {
	h := newTestHub(store.NewMockStore(), &fakeGateway{}, &fakeScheduler{}, &fakeNotifier{})
	err := h.HandleReconcileJob(context.Background(), []byte("{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding reconcile job")
}
