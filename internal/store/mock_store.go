// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store and JobStore implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	coordinations map[string]*Coordination // keyed by coordination_uuid
	agents        map[string]*Agent        // keyed by agent_uuid
	sessions      map[string]*Session      // keyed by session_uuid
	threads       map[string]*Thread       // keyed by "sessionUUID:threadID"
	threadOrder   map[string][]string      // session_uuid -> thread ids in creation order
	connections   map[string]*Connection   // keyed by connection_id
	jobs          map[string]*Job          // keyed by job id

	// Optional error injection, applied to the next matching call.
	UpsertSessionErr error
	UpsertThreadErr  error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		coordinations: make(map[string]*Coordination),
		agents:        make(map[string]*Agent),
		sessions:      make(map[string]*Session),
		threads:       make(map[string]*Thread),
		threadOrder:   make(map[string][]string),
		connections:   make(map[string]*Connection),
		jobs:          make(map[string]*Job),
	}
}

func threadKey(sessionUUID, threadID string) string {
	return sessionUUID + ":" + threadID
}

// GetCoordination retrieves a coordination by type and uuid.
func (m *MockStore) GetCoordination(ctx context.Context, coordinationType, coordinationUUID string) (*Coordination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coordinations[coordinationUUID]
	if !ok || c.CoordinationType != coordinationType {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// UpsertCoordination stores a coordination record.
func (m *MockStore) UpsertCoordination(ctx context.Context, c *Coordination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	m.coordinations[cp.CoordinationUUID] = &cp
	return nil
}

// GetAgent retrieves an agent by uuid.
func (m *MockStore) GetAgent(ctx context.Context, agentUUID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[agentUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// UpsertAgent stores an agent record.
func (m *MockStore) UpsertAgent(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.agents[cp.AgentUUID] = &cp
	return nil
}

// UpsertSession creates or updates a session.
func (m *MockStore) UpsertSession(ctx context.Context, up *SessionUpsert) (*Session, error) {
	if m.UpsertSessionErr != nil {
		return nil, m.UpsertSessionErr
	}

	m.mu.Lock()
	sessionUUID := up.SessionUUID
	if sessionUUID == "" {
		sessionUUID = uuid.New().String()
	}

	sess, ok := m.sessions[sessionUUID]
	if !ok {
		status := up.Status
		if status == "" {
			status = StatusInitial
		}
		sess = &Session{
			SessionUUID:      sessionUUID,
			CoordinationUUID: up.CoordinationUUID,
			Status:           status,
			UpdatedBy:        up.UpdatedBy,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		m.sessions[sessionUUID] = sess
	} else {
		if up.Status != "" {
			sess.Status = up.Status
		}
		sess.UpdatedBy = up.UpdatedBy
		sess.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	return m.GetSession(ctx, sessionUUID)
}

// GetSession retrieves a session with coordination and thread list joined.
func (m *MockStore) GetSession(ctx context.Context, sessionUUID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	cp.ThreadIDs = append([]string(nil), m.threadOrder[sessionUUID]...)
	if c, ok := m.coordinations[sess.CoordinationUUID]; ok {
		cc := *c
		cp.Coordination = &cc
	}
	return &cp, nil
}

// UpsertThread creates or updates a thread with patch semantics.
func (m *MockStore) UpsertThread(ctx context.Context, up *ThreadUpsert) (*Thread, error) {
	if m.UpsertThreadErr != nil {
		return nil, m.UpsertThreadErr
	}

	m.mu.Lock()
	key := threadKey(up.SessionUUID, up.ThreadID)
	t, ok := m.threads[key]
	if !ok {
		status := up.Status
		if status == "" {
			status = StatusInitial
		}
		t = &Thread{
			SessionUUID:          up.SessionUUID,
			ThreadID:             up.ThreadID,
			CoordinationUUID:     up.CoordinationUUID,
			AgentUUID:            derefOrEmpty(up.AgentUUID),
			LastAssistantMessage: derefOrEmpty(up.LastAssistantMessage),
			Status:               status,
			Log:                  derefOrEmpty(up.Log),
			UpdatedBy:            up.UpdatedBy,
			CreatedAt:            time.Now(),
			UpdatedAt:            time.Now(),
		}
		m.threads[key] = t
		m.threadOrder[up.SessionUUID] = append(m.threadOrder[up.SessionUUID], up.ThreadID)
	} else {
		if up.CoordinationUUID != "" {
			t.CoordinationUUID = up.CoordinationUUID
		}
		if up.AgentUUID != nil {
			t.AgentUUID = *up.AgentUUID
		}
		if up.LastAssistantMessage != nil {
			t.LastAssistantMessage = *up.LastAssistantMessage
		}
		if up.Log != nil {
			t.Log = *up.Log
		}
		if up.Status != "" {
			t.Status = up.Status
		}
		t.UpdatedBy = up.UpdatedBy
		t.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	return m.GetThread(ctx, up.SessionUUID, up.ThreadID)
}

// GetThread retrieves a thread with its agent joined.
func (m *MockStore) GetThread(ctx context.Context, sessionUUID, threadID string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[threadKey(sessionUUID, threadID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	if cp.AgentUUID != "" {
		if a, ok := m.agents[cp.AgentUUID]; ok {
			ac := *a
			cp.Agent = &ac
		}
	}
	return &cp, nil
}

// UpsertConnection stores a connection record.
func (m *MockStore) UpsertConnection(ctx context.Context, c *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	if cp.Status == "" {
		cp.Status = ConnectionActive
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.connections[cp.ConnectionID] = &cp
	return nil
}

// FindLiveConnection returns the newest active connection for the address.
func (m *MockStore) FindLiveConnection(ctx context.Context, address string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*Connection
	for _, c := range m.connections {
		if c.Address == address && c.Status == ConnectionActive {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

// CreateJob stores a job record.
func (m *MockStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *job
	if cp.Status == "" {
		cp.Status = JobQueued
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.jobs[cp.ID] = &cp
	return nil
}

// SetJobStatus updates a job's status and error message.
func (m *MockStore) SetJobStatus(ctx context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[id]; ok {
		j.Status = status
		j.Error = errMsg
		j.UpdatedAt = time.Now()
	}
	return nil
}

// ListUnfinishedJobs returns queued and running jobs, oldest first.
func (m *MockStore) ListUnfinishedJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*Job
	for _, j := range m.jobs {
		if j.Status == JobQueued || j.Status == JobRunning {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// GetJob returns a job by id (test helper, not part of JobStore).
func (m *MockStore) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }
