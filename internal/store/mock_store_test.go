// ABOUTME: Tests that MockStore matches SQLiteStore behavior
// ABOUTME: Covers the upsert paths the hub relies on

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_SessionAndThreadUpsert(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.UpsertCoordination(ctx, &Coordination{
		CoordinationUUID: "C1",
		CoordinationType: "operation_hub",
		AssistantType:    "assistant",
		AssistantID:      "asst_123",
	}))

	sess, err := m.UpsertSession(ctx, &SessionUpsert{
		CoordinationUUID: "C1",
		Status:           StatusInTransit,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionUUID)
	require.NotNil(t, sess.Coordination)
	assert.Equal(t, "asst_123", sess.Coordination.AssistantID)

	th, err := m.UpsertThread(ctx, &ThreadUpsert{
		SessionUUID: sess.SessionUUID,
		ThreadID:    "thread_1",
		Status:      StatusDispatched,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, th.Status)

	// Patch semantics: nil fields untouched, Clear wipes
	th, err = m.UpsertThread(ctx, &ThreadUpsert{
		SessionUUID:          sess.SessionUUID,
		ThreadID:             "thread_1",
		LastAssistantMessage: Ptr("done"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, th.Status)
	assert.Equal(t, "done", th.LastAssistantMessage)

	th, err = m.UpsertThread(ctx, &ThreadUpsert{
		SessionUUID:          sess.SessionUUID,
		ThreadID:             "thread_1",
		LastAssistantMessage: Clear,
	})
	require.NoError(t, err)
	assert.Empty(t, th.LastAssistantMessage)

	sess, err = m.GetSession(ctx, sess.SessionUUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread_1"}, sess.ThreadIDs)
}

func TestMockStore_FindLiveConnection(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	older, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	newer, _ := time.Parse(time.RFC3339, "2024-06-01T00:00:00Z")

	require.NoError(t, m.UpsertConnection(ctx, &Connection{
		ConnectionID: "c1", Address: "a@b.c", UpdatedAt: older,
	}))
	require.NoError(t, m.UpsertConnection(ctx, &Connection{
		ConnectionID: "c2", Address: "a@b.c", UpdatedAt: newer,
	}))

	c, err := m.FindLiveConnection(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "c2", c.ConnectionID)

	_, err = m.FindLiveConnection(ctx, "x@y.z")
	assert.ErrorIs(t, err, ErrNotFound)
}
