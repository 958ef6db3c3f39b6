// ABOUTME: SQLite implementation of the Store and JobStore interfaces using modernc.org/sqlite
// ABOUTME: Provides coordination/session/thread persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store and JobStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS coordinations (
			coordination_uuid       TEXT PRIMARY KEY,
			coordination_type       TEXT NOT NULL,
			assistant_type          TEXT NOT NULL,
			assistant_id            TEXT NOT NULL,
			additional_instructions TEXT,
			updated_by              TEXT,
			created_at              TEXT NOT NULL,
			updated_at              TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_coordinations_type
			ON coordinations(coordination_type);

		CREATE TABLE IF NOT EXISTS agents (
			agent_uuid      TEXT PRIMARY KEY,
			agent_name      TEXT NOT NULL,
			instructions    TEXT,
			response_format TEXT,
			json_schema     TEXT,
			tools           TEXT,
			updated_by      TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_uuid      TEXT PRIMARY KEY,
			coordination_uuid TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'initial',
			updated_by        TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (status IN ('initial', 'in_transit', 'active'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_coordination
			ON sessions(coordination_uuid);

		CREATE TABLE IF NOT EXISTS threads (
			session_uuid           TEXT NOT NULL,
			thread_id              TEXT NOT NULL,
			coordination_uuid      TEXT,
			agent_uuid             TEXT,
			last_assistant_message TEXT,
			status                 TEXT NOT NULL DEFAULT 'initial',
			log                    TEXT,
			updated_by             TEXT,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,

			PRIMARY KEY (session_uuid, thread_id),
			CHECK (status IN ('initial', 'in_transit', 'active', 'assigned',
				'unassigned', 'dispatched', 'completed', 'fail'))
		);

		CREATE INDEX IF NOT EXISTS idx_threads_session
			ON threads(session_uuid, created_at);

		CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			address       TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'active',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_connections_address
			ON connections(address, status);

		CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			payload    BLOB,
			status     TEXT NOT NULL DEFAULT 'queued',
			error      TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('queued', 'running', 'done', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// now returns the current time formatted for lexicographic ordering.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetCoordination retrieves a coordination by type and uuid.
func (s *SQLiteStore) GetCoordination(ctx context.Context, coordinationType, coordinationUUID string) (*Coordination, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT coordination_uuid, coordination_type, assistant_type, assistant_id,
			COALESCE(additional_instructions, ''), COALESCE(updated_by, ''),
			created_at, updated_at
		FROM coordinations
		WHERE coordination_type = ? AND coordination_uuid = ?`,
		coordinationType, coordinationUUID)
	return scanCoordination(row)
}

// getCoordinationByUUID is the join helper used when loading sessions and
// threads; unlike GetCoordination it does not require the type.
func (s *SQLiteStore) getCoordinationByUUID(ctx context.Context, coordinationUUID string) (*Coordination, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT coordination_uuid, coordination_type, assistant_type, assistant_id,
			COALESCE(additional_instructions, ''), COALESCE(updated_by, ''),
			created_at, updated_at
		FROM coordinations
		WHERE coordination_uuid = ?`, coordinationUUID)
	return scanCoordination(row)
}

func scanCoordination(row *sql.Row) (*Coordination, error) {
	var c Coordination
	var createdAt, updatedAt string
	err := row.Scan(&c.CoordinationUUID, &c.CoordinationType, &c.AssistantType,
		&c.AssistantID, &c.AdditionalInstructions, &c.UpdatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning coordination: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// UpsertCoordination creates or replaces a coordination record.
func (s *SQLiteStore) UpsertCoordination(ctx context.Context, c *Coordination) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coordinations (coordination_uuid, coordination_type, assistant_type,
			assistant_id, additional_instructions, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coordination_uuid) DO UPDATE SET
			coordination_type = excluded.coordination_type,
			assistant_type = excluded.assistant_type,
			assistant_id = excluded.assistant_id,
			additional_instructions = excluded.additional_instructions,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		c.CoordinationUUID, c.CoordinationType, c.AssistantType, c.AssistantID,
		c.AdditionalInstructions, c.UpdatedBy, ts, ts)
	if err != nil {
		return fmt.Errorf("upserting coordination: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by uuid.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentUUID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_uuid, agent_name, COALESCE(instructions, ''),
			COALESCE(response_format, ''), COALESCE(json_schema, ''),
			COALESCE(tools, ''), COALESCE(updated_by, ''), created_at, updated_at
		FROM agents WHERE agent_uuid = ?`, agentUUID)

	var a Agent
	var createdAt, updatedAt string
	err := row.Scan(&a.AgentUUID, &a.AgentName, &a.Instructions, &a.ResponseFormat,
		&a.JSONSchema, &a.Tools, &a.UpdatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// UpsertAgent creates or replaces an agent record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, a *Agent) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_uuid, agent_name, instructions, response_format,
			json_schema, tools, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_uuid) DO UPDATE SET
			agent_name = excluded.agent_name,
			instructions = excluded.instructions,
			response_format = excluded.response_format,
			json_schema = excluded.json_schema,
			tools = excluded.tools,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		a.AgentUUID, a.AgentName, a.Instructions, a.ResponseFormat,
		a.JSONSchema, a.Tools, a.UpdatedBy, ts, ts)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// UpsertSession creates or updates a session. A missing SessionUUID
// generates a new one. Returns the session joined with its coordination
// and thread list.
func (s *SQLiteStore) UpsertSession(ctx context.Context, up *SessionUpsert) (*Session, error) {
	if up.CoordinationUUID == "" {
		return nil, fmt.Errorf("coordination_uuid is required")
	}

	sessionUUID := up.SessionUUID
	ts := now()

	if sessionUUID == "" {
		sessionUUID = uuid.New().String()
	}

	insertStatus := up.Status
	if insertStatus == "" {
		insertStatus = StatusInitial
	}

	// Single statement so concurrent first-upserts of the same key
	// resolve last-writer-wins instead of racing to a key violation.
	// An empty Status leaves the stored status untouched on update.
	set := "updated_by = excluded.updated_by, updated_at = excluded.updated_at"
	if up.Status != "" {
		set += ", status = excluded.status"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_uuid, coordination_uuid, status, updated_by,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_uuid) DO UPDATE SET `+set,
		sessionUUID, up.CoordinationUUID, insertStatus, up.UpdatedBy, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("upserting session: %w", err)
	}
	s.logger.Debug("session upserted", "session_uuid", sessionUUID, "status", up.Status)

	return s.GetSession(ctx, sessionUUID)
}

// GetSession retrieves a session with its coordination and thread list.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionUUID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_uuid, coordination_uuid, status, COALESCE(updated_by, ''),
			created_at, updated_at
		FROM sessions WHERE session_uuid = ?`, sessionUUID)

	var sess Session
	var createdAt, updatedAt string
	err := row.Scan(&sess.SessionUUID, &sess.CoordinationUUID, &sess.Status,
		&sess.UpdatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)

	sess.ThreadIDs, err = s.listThreadIDs(ctx, sessionUUID)
	if err != nil {
		return nil, err
	}

	coord, err := s.getCoordinationByUUID(ctx, sess.CoordinationUUID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	sess.Coordination = coord

	return &sess, nil
}

// listThreadIDs returns the session's thread ids in creation order.
func (s *SQLiteStore) listThreadIDs(ctx context.Context, sessionUUID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id FROM threads
		WHERE session_uuid = ?
		ORDER BY created_at ASC, thread_id ASC`, sessionUUID)
	if err != nil {
		return nil, fmt.Errorf("listing thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertThread creates or updates a thread. Threads are created implicitly
// by the first upsert referencing an unknown thread_id. Pointer fields use
// patch semantics: nil leaves the column untouched, pointer-to-empty clears.
func (s *SQLiteStore) UpsertThread(ctx context.Context, up *ThreadUpsert) (*Thread, error) {
	if up.SessionUUID == "" || up.ThreadID == "" {
		return nil, fmt.Errorf("session_uuid and thread_id are required")
	}

	ts := now()

	insertStatus := up.Status
	if insertStatus == "" {
		insertStatus = StatusInitial
	}

	// Single statement so concurrent first-upserts of the same key
	// resolve last-writer-wins instead of racing to a key violation.
	// Only the patch fields the caller set make it into the update.
	set := "updated_by = excluded.updated_by, updated_at = excluded.updated_at"
	if up.CoordinationUUID != "" {
		set += ", coordination_uuid = excluded.coordination_uuid"
	}
	if up.AgentUUID != nil {
		set += ", agent_uuid = excluded.agent_uuid"
	}
	if up.LastAssistantMessage != nil {
		set += ", last_assistant_message = excluded.last_assistant_message"
	}
	if up.Log != nil {
		set += ", log = excluded.log"
	}
	if up.Status != "" {
		set += ", status = excluded.status"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (session_uuid, thread_id, coordination_uuid, agent_uuid,
			last_assistant_message, status, log, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_uuid, thread_id) DO UPDATE SET `+set,
		up.SessionUUID, up.ThreadID, up.CoordinationUUID,
		derefOrEmpty(up.AgentUUID), derefOrEmpty(up.LastAssistantMessage),
		insertStatus, derefOrEmpty(up.Log), up.UpdatedBy, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("upserting thread: %w", err)
	}
	s.logger.Debug("thread upserted",
		"session_uuid", up.SessionUUID,
		"thread_id", up.ThreadID,
		"status", up.Status)

	return s.GetThread(ctx, up.SessionUUID, up.ThreadID)
}

func derefOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// GetThread retrieves a thread with its agent record joined.
func (s *SQLiteStore) GetThread(ctx context.Context, sessionUUID, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_uuid, thread_id, COALESCE(coordination_uuid, ''),
			COALESCE(agent_uuid, ''), COALESCE(last_assistant_message, ''),
			status, COALESCE(log, ''), COALESCE(updated_by, ''),
			created_at, updated_at
		FROM threads WHERE session_uuid = ? AND thread_id = ?`,
		sessionUUID, threadID)

	var t Thread
	var createdAt, updatedAt string
	err := row.Scan(&t.SessionUUID, &t.ThreadID, &t.CoordinationUUID, &t.AgentUUID,
		&t.LastAssistantMessage, &t.Status, &t.Log, &t.UpdatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	if t.AgentUUID != "" {
		agent, err := s.GetAgent(ctx, t.AgentUUID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		t.Agent = agent
	}

	return &t, nil
}

// UpsertConnection creates or refreshes a live connection record.
func (s *SQLiteStore) UpsertConnection(ctx context.Context, c *Connection) error {
	if c.ConnectionID == "" || c.Address == "" {
		return fmt.Errorf("connection_id and address are required")
	}
	status := c.Status
	if status == "" {
		status = ConnectionActive
	}
	ts := now()
	// The push transport replays its own timestamps when re-registering.
	updatedAt := ts
	if !c.UpdatedAt.IsZero() {
		updatedAt = c.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (connection_id, address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			address = excluded.address,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ConnectionID, c.Address, status, ts, updatedAt)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// FindLiveConnection returns the active connection for the address with
// the greatest updated_at, or ErrNotFound.
func (s *SQLiteStore) FindLiveConnection(ctx context.Context, address string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT connection_id, address, status, created_at, updated_at
		FROM connections
		WHERE address = ? AND status = 'active'
		ORDER BY updated_at DESC, connection_id ASC
		LIMIT 1`, address)

	var c Connection
	var createdAt, updatedAt string
	err := row.Scan(&c.ConnectionID, &c.Address, &c.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// CreateJob persists a queued job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	ts := now()
	status := job.Status
	if status == "" {
		status = JobQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, payload, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Payload, status, job.Error, ts, ts)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// SetJobStatus updates a job's status and error message.
func (s *SQLiteStore) SetJobStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now(), id)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	return nil
}

// ListUnfinishedJobs returns queued and running jobs, oldest first.
// Used at startup to re-enqueue work interrupted by a crash.
func (s *SQLiteStore) ListUnfinishedJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, payload, status, COALESCE(error, ''), created_at, updated_at
		FROM jobs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.Name, &j.Payload, &j.Status, &j.Error,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		j.CreatedAt = parseTime(createdAt)
		j.UpdatedAt = parseTime(updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
