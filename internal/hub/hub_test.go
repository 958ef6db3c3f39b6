// ABOUTME: Shared test doubles for the hub package
// ABOUTME: Fake assistant gateway, job scheduler, and notifier

package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/store"
)

type fakeGateway struct {
	mu       sync.Mutex
	askReqs  []*assistant.AskRequest
	handle   *assistant.RunHandle
	askErr   error
	statuses []string // consumed in order, last value repeats
	statErr  error
	message  string
	msgErr   error
}

func (g *fakeGateway) Ask(ctx context.Context, req *assistant.AskRequest) (*assistant.RunHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *req
	g.askReqs = append(g.askReqs, &cp)
	if g.askErr != nil {
		return nil, g.askErr
	}
	h := *g.handle
	return &h, nil
}

func (g *fakeGateway) RunStatus(ctx context.Context, handle *assistant.RunHandle) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statErr != nil {
		return "", g.statErr
	}
	status := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return status, nil
}

func (g *fakeGateway) LastMessage(ctx context.Context, assistantID, threadID, role string) (string, error) {
	if g.msgErr != nil {
		return "", g.msgErr
	}
	return g.message, nil
}

func (g *fakeGateway) lastAsk(t *testing.T) *assistant.AskRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.askReqs)
	return g.askReqs[len(g.askReqs)-1]
}

type scheduledJob struct {
	name    string
	payload any
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
	err  error
}

func (s *fakeScheduler) Schedule(jobName string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, scheduledJob{name: jobName, payload: payload})
	return nil
}

func (s *fakeScheduler) lastJob(t *testing.T) *ReconcileJob {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.jobs)
	job, ok := s.jobs[len(s.jobs)-1].payload.(*ReconcileJob)
	require.True(t, ok, "scheduled payload is not a ReconcileJob")
	return job
}

type sentMail struct {
	address string
	subject string
	body    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentMail
	err   error
}

func (n *fakeNotifier) Send(ctx context.Context, address, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sentMail{address: address, subject: subject, body: body})
	return nil
}

func (n *fakeNotifier) Name() string { return "fake" }

func newTestHub(m *store.MockStore, gw *fakeGateway, sched *fakeScheduler, n *fakeNotifier) *Hub {
	return New(m, gw, sched, n, Options{
		PollInterval: time.Millisecond,
		RunTimeout:   100 * time.Millisecond,
	})
}

// seedCoordination installs a coordination record and returns it.
func seedCoordination(t *testing.T, m *store.MockStore) *store.Coordination {
	t.Helper()
	c := &store.Coordination{
		CoordinationType:       "order",
		CoordinationUUID:       "coord-1",
		AssistantType:          "openai",
		AssistantID:            "asst-1",
		AdditionalInstructions: "Be brief.",
	}
	require.NoError(t, m.UpsertCoordination(context.Background(), c))
	return c
}

// seedSession creates a session with one existing thread and returns the
// session uuid and thread id.
func seedSession(t *testing.T, m *store.MockStore, status, threadStatus string) (string, string) {
	t.Helper()
	ctx := context.Background()
	sess, err := m.UpsertSession(ctx, &store.SessionUpsert{
		CoordinationUUID: "coord-1",
		Status:           status,
		UpdatedBy:        "test",
	})
	require.NoError(t, err)
	_, err = m.UpsertThread(ctx, &store.ThreadUpsert{
		SessionUUID:      sess.SessionUUID,
		ThreadID:         "thread-1",
		CoordinationUUID: "coord-1",
		Status:           threadStatus,
		UpdatedBy:        "test",
	})
	require.NoError(t, err)
	return sess.SessionUUID, "thread-1"
}
