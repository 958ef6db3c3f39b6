// ABOUTME: Store interface and data types for ophub persistence
// ABOUTME: Defines Coordination, Session, Thread, Agent records and upsert semantics

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Session and thread status values. Sessions move through
// initial -> in_transit -> active; threads carry the routing state machine
// (initial while a routing decision is pending, assigned/unassigned after
// the decision, dispatched while a run is in flight, completed or fail at
// the end).
const (
	StatusInitial    = "initial"
	StatusInTransit  = "in_transit"
	StatusActive     = "active"
	StatusAssigned   = "assigned"
	StatusUnassigned = "unassigned"
	StatusDispatched = "dispatched"
	StatusCompleted  = "completed"
	StatusFail       = "fail"
)

// Connection status values
const (
	ConnectionActive = "active"
	ConnectionClosed = "closed"
)

// Job status values for the async job queue
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Coordination binds a business entity to an assistant type/id.
// Directory data: read-only to the dispatch core.
type Coordination struct {
	CoordinationType       string
	CoordinationUUID       string
	AssistantType          string
	AssistantID            string
	AdditionalInstructions string
	UpdatedBy              string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Agent is a configured persona a thread can be bound to.
type Agent struct {
	AgentUUID      string
	AgentName      string
	Instructions   string
	ResponseFormat string // auto, text, json_object, json_schema
	JSONSchema     string // raw JSON, used when ResponseFormat is json_schema
	Tools          string // raw JSON array of tool definitions
	UpdatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is one user-visible conversational engagement. ThreadIDs is the
// append-only list of threads in creation order; the first element is the
// current thread for a session that has not branched.
type Session struct {
	SessionUUID      string
	CoordinationUUID string
	Status           string
	ThreadIDs        []string
	Coordination     *Coordination // joined, nil if the coordination record is gone
	UpdatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Thread is one assistant-side conversation, owner of the agent binding
// and the routing status. Thread IDs come from the assistant gateway,
// never generated locally.
type Thread struct {
	SessionUUID          string
	ThreadID             string
	CoordinationUUID     string
	AgentUUID            string // empty while no agent is bound
	Agent                *Agent // joined, nil while unbound
	LastAssistantMessage string
	Status               string
	Log                  string // failure trace, empty on healthy threads
	UpdatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Connection is a live push connection registered by the outer transport
// (websocket layer). The dispatcher only ever reads these.
type Connection struct {
	ConnectionID string
	Address      string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Job is a durable record of a scheduled async job.
type Job struct {
	ID        string
	Name      string
	Payload   []byte
	Status    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionUpsert describes a session create-or-update. A missing
// SessionUUID asks the store to generate one. An empty Status leaves the
// stored status untouched on update (new sessions default to initial).
type SessionUpsert struct {
	CoordinationUUID string
	SessionUUID      string
	Status           string
	UpdatedBy        string
}

// ThreadUpsert describes a thread create-or-update. Pointer fields use
// patch semantics: nil leaves the column untouched, a pointer to the
// empty string clears it. An empty Status leaves the stored status
// untouched on update (new threads default to initial).
type ThreadUpsert struct {
	SessionUUID          string
	ThreadID             string
	CoordinationUUID     string
	AgentUUID            *string
	LastAssistantMessage *string
	Status               string
	Log                  *string
	UpdatedBy            string
}

// Ptr returns a pointer to s, for ThreadUpsert patch fields.
func Ptr(s string) *string { return &s }

// Clear is a patch value that clears a column.
var Clear = Ptr("")

// Store defines coordination, session, thread and connection persistence.
// Sessions and threads use last-writer-wins upsert semantics; the store
// never deletes them.
type Store interface {
	// Coordination directory
	GetCoordination(ctx context.Context, coordinationType, coordinationUUID string) (*Coordination, error)
	UpsertCoordination(ctx context.Context, c *Coordination) error

	// Agent directory
	GetAgent(ctx context.Context, agentUUID string) (*Agent, error)
	UpsertAgent(ctx context.Context, a *Agent) error

	// Sessions
	UpsertSession(ctx context.Context, up *SessionUpsert) (*Session, error)
	GetSession(ctx context.Context, sessionUUID string) (*Session, error)

	// Threads
	UpsertThread(ctx context.Context, up *ThreadUpsert) (*Thread, error)
	GetThread(ctx context.Context, sessionUUID, threadID string) (*Thread, error)

	// Live connections
	UpsertConnection(ctx context.Context, c *Connection) error
	FindLiveConnection(ctx context.Context, address string) (*Connection, error)

	// Close releases any resources held by the store
	Close() error
}

// JobStore defines persistence for the async job queue.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	SetJobStatus(ctx context.Context, id, status, errMsg string) error
	ListUnfinishedJobs(ctx context.Context) ([]*Job, error)
}
