// ABOUTME: At-least-once in-process job queue for fire-and-forget work
// ABOUTME: Persists job records so unfinished work is re-enqueued after a restart

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/ophub/internal/store"
)

// Handler processes one job payload. A returned error marks the job
// failed; the payload is the JSON given to Schedule.
type Handler func(ctx context.Context, payload []byte) error

// Scheduler is the fire-and-forget scheduling interface the dispatcher
// consumes. Schedule returns once the job is durably recorded; execution
// happens on a worker goroutine.
type Scheduler interface {
	Schedule(jobName string, payload any) error
}

// Store defines what the runner needs from persistence.
type Store interface {
	CreateJob(ctx context.Context, job *store.Job) error
	SetJobStatus(ctx context.Context, id, status, errMsg string) error
	ListUnfinishedJobs(ctx context.Context) ([]*store.Job, error)
}

// Runner executes scheduled jobs on a pool of worker goroutines.
// Delivery is at-least-once: jobs still queued or running at shutdown are
// re-enqueued on the next Start, so handlers must tolerate re-runs.
type Runner struct {
	store    Store
	logger   *slog.Logger
	queue    chan *store.Job
	workers  int
	handlers map[string]Handler

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a job runner with the given worker count and queue size.
func NewRunner(s Store, workers, queueSize int) *Runner {
	return &Runner{
		store:    s,
		logger:   slog.Default().With("component", "jobs"),
		queue:    make(chan *store.Job, queueSize),
		workers:  workers,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job name. Must be called before Start.
func (r *Runner) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Start recovers unfinished jobs from the store and launches the workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	recovered, err := r.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	for _, job := range recovered {
		select {
		case r.queue <- job:
		default:
			r.logger.Warn("queue full during recovery, job left queued", "job_id", job.ID)
		}
	}
	if len(recovered) > 0 {
		r.logger.Info("recovered unfinished jobs", "count", len(recovered))
	}

	return nil
}

// Schedule records a job and hands it to a worker. The job record is
// written before enqueueing, so a full queue or a crash only delays the
// job until the next Start.
func (r *Runner) Schedule(jobName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}

	job := &store.Job{
		ID:      uuid.New().String(),
		Name:    jobName,
		Payload: data,
		Status:  store.JobQueued,
	}
	if err := r.store.CreateJob(context.Background(), job); err != nil {
		return fmt.Errorf("recording job: %w", err)
	}

	// The queue is closed by Stop under the same lock, so the send can
	// never hit a closed channel.
	r.mu.Lock()
	if r.started {
		select {
		case r.queue <- job:
		default:
			r.logger.Warn("job queue full, job deferred to next startup", "job_id", job.ID, "name", jobName)
		}
	} else {
		r.logger.Warn("runner not running, job deferred to next startup", "job_id", job.ID, "name", jobName)
	}
	r.mu.Unlock()

	r.logger.Debug("job scheduled", "job_id", job.ID, "name", jobName)
	return nil
}

// Stop cancels in-flight handlers and waits for the workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	close(r.queue)
	r.started = false
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for job := range r.queue {
		r.run(job)
	}
}

func (r *Runner) run(job *store.Job) {
	h, ok := r.handlers[job.Name]
	if !ok {
		r.logger.Error("no handler for job", "job_id", job.ID, "name", job.Name)
		r.setStatus(job.ID, store.JobFailed, "no handler registered")
		return
	}

	r.setStatus(job.ID, store.JobRunning, "")

	if err := h(r.ctx, job.Payload); err != nil {
		r.logger.Error("job failed", "job_id", job.ID, "name", job.Name, "error", err)
		r.setStatus(job.ID, store.JobFailed, err.Error())
		return
	}

	r.setStatus(job.ID, store.JobDone, "")
}

// setStatus updates the job record with a fresh context so bookkeeping
// survives shutdown cancellation.
func (r *Runner) setStatus(id, status, errMsg string) {
	if err := r.store.SetJobStatus(context.Background(), id, status, errMsg); err != nil {
		r.logger.Error("failed to update job status", "job_id", id, "status", status, "error", err)
	}
}
