// ABOUTME: Hub construction and the typed request/response contracts of the dispatch core
// ABOUTME: Defines DispatchRequest, ProvisionalResult, ReconcileJob and the consumed interfaces

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/dedupe"
	"github.com/2389/ophub/internal/jobs"
	"github.com/2389/ophub/internal/notify"
	"github.com/2389/ophub/internal/store"
)

// updatedBy is stamped on every record the hub writes.
const updatedBy = "AI Operation Hub"

// ReconcileJobName is the job queue name for scheduled reconciliations.
const ReconcileJobName = "reconcile_thread"

// Store defines what the hub needs from persistence.
type Store interface {
	GetCoordination(ctx context.Context, coordinationType, coordinationUUID string) (*store.Coordination, error)
	UpsertSession(ctx context.Context, up *store.SessionUpsert) (*store.Session, error)
	UpsertThread(ctx context.Context, up *store.ThreadUpsert) (*store.Thread, error)
	GetThread(ctx context.Context, sessionUUID, threadID string) (*store.Thread, error)
	FindLiveConnection(ctx context.Context, address string) (*store.Connection, error)
}

// DispatchRequest is one user query entering the hub. AgentUUID selects
// the direct-dispatch path; without it the hub auto-routes. ConnectionID
// is the caller's current push connection, if any.
type DispatchRequest struct {
	CoordinationType string `json:"coordination_type"`
	CoordinationUUID string `json:"coordination_uuid"`
	UserQuery        string `json:"user_query"`
	AgentUUID        string `json:"agent_uuid,omitempty"`
	SessionUUID      string `json:"session_uuid,omitempty"`
	ReceiverEmail    string `json:"receiver_email,omitempty"`
	ConnectionID     string `json:"connection_id,omitempty"`
}

// Validate checks boundary requirements before any state is touched.
func (r *DispatchRequest) Validate() error {
	if r.CoordinationType == "" {
		return fmt.Errorf("coordination_type is required")
	}
	if r.CoordinationUUID == "" {
		return fmt.Errorf("coordination_uuid is required")
	}
	if r.UserQuery == "" {
		return fmt.Errorf("user_query is required")
	}
	if r.AgentUUID != "" && r.SessionUUID == "" {
		return fmt.Errorf("session_uuid is required when agent_uuid is set")
	}
	return nil
}

// ProvisionalResult is the pre-reconciliation thread snapshot returned to
// the caller while the model run is still in flight.
type ProvisionalResult struct {
	Coordination         *store.Coordination
	SessionUUID          string
	ThreadID             string
	Agent                *store.Agent
	LastAssistantMessage string
	Status               string
	Log                  string
}

// ReconcileJob is the payload of one scheduled reconciliation pass.
// AgentUUID is carried forward on the direct-dispatch path; NotifyEmail
// is set only when the caller supplied an email and no live connection
// could be resolved at dispatch time.
type ReconcileJob struct {
	SessionUUID      string `json:"session_uuid"`
	CoordinationUUID string `json:"coordination_uuid"`
	FunctionName     string `json:"function_name"`
	TaskUUID         string `json:"task_uuid"`
	AssistantID      string `json:"assistant_id"`
	ThreadID         string `json:"thread_id"`
	RunID            string `json:"run_id"`
	AgentUUID        string `json:"agent_uuid,omitempty"`
	NotifyEmail      string `json:"notify_email,omitempty"`
}

// Options carries hub timing configuration.
type Options struct {
	PollInterval time.Duration // cadence of run status checks
	RunTimeout   time.Duration // wall-clock ceiling for one run
}

// Hub is the coordination core: dispatch orchestrator, run poller and
// thread reconciler over the injected collaborators. Construct once per
// process; all state lives in the store.
type Hub struct {
	store     Store
	gateway   assistant.Gateway
	scheduler jobs.Scheduler
	notifier  notify.Notifier
	seen      *dedupe.Cache
	logger    *slog.Logger

	pollInterval time.Duration
	runTimeout   time.Duration
}

// New creates a Hub. Zero-valued options fall back to the 1s/300s
// poll cadence and run ceiling.
func New(s Store, gw assistant.Gateway, scheduler jobs.Scheduler, notifier notify.Notifier, opts Options) *Hub {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	if opts.RunTimeout == 0 {
		opts.RunTimeout = 300 * time.Second
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Hub{
		store:        s,
		gateway:      gw,
		scheduler:    scheduler,
		notifier:     notifier,
		seen:         dedupe.New(10*time.Minute, 1024),
		logger:       slog.Default().With("component", "hub"),
		pollInterval: opts.PollInterval,
		runTimeout:   opts.RunTimeout,
	}
}

// GetThread is the read path: a pure read-through to the store.
func (h *Hub) GetThread(ctx context.Context, sessionUUID, threadID string) (*store.Thread, error) {
	return h.store.GetThread(ctx, sessionUUID, threadID)
}

func snapshot(sess *store.Session, th *store.Thread) *ProvisionalResult {
	return &ProvisionalResult{
		Coordination:         sess.Coordination,
		SessionUUID:          sess.SessionUUID,
		ThreadID:             th.ThreadID,
		Agent:                th.Agent,
		LastAssistantMessage: th.LastAssistantMessage,
		Status:               th.Status,
		Log:                  th.Log,
	}
}
