// ABOUTME: Job queue table with atomic claim transitions over the store actor
// ABOUTME: Claims are single conditional updates; exactly one winner per job

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydb/quarry/internal/store"
)

// Status is the mutable state of a queue row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrJobExists is returned when enqueueing a job id that already exists.
var ErrJobExists = errors.New("job already exists")

// ErrNotClaimed is returned by Complete and Fail when the job is not in the
// running state, typically because the caller never claimed it.
var ErrNotClaimed = errors.New("job is not running")

// Job is one row of the mutable claim table.
type Job struct {
	ID         string
	Status     Status
	ClaimOwner string
	ClaimedAt  *time.Time
	Attempts   int
	CreatedAt  time.Time
}

// Stats counts queue rows by status.
type Stats struct {
	Queued    int64
	Running   int64
	Completed int64
	Failed    int64
}

// Total returns the number of jobs across all statuses.
func (s Stats) Total() int64 { return s.Queued + s.Running + s.Completed + s.Failed }

// DefaultPayloadLimit bounds serialized event payloads in bytes.
const DefaultPayloadLimit = 4096

// Options configures a Queue.
type Options struct {
	// PayloadLimit caps serialized event payload size in bytes.
	// Defaults to DefaultPayloadLimit.
	PayloadLimit int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Queue manages the job-claim table and the append-only event log through a
// store handle. In a deployment exactly one collaborator role performs
// writes through it; read-only collaborators use the query methods only.
// That ownership split is a policy of how handles are distributed, not
// something the store enforces.
type Queue struct {
	h            *store.Handle
	logger       *slog.Logger
	payloadLimit int
}

// New returns a Queue over the given handle.
func New(h *store.Handle, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.PayloadLimit
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}
	return &Queue{
		h:            h,
		logger:       logger.With("component", "jobs"),
		payloadLimit: limit,
	}
}

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id      TEXT PRIMARY KEY,
		status      TEXT NOT NULL DEFAULT 'queued',
		claim_owner TEXT,
		claimed_at  INTEGER,
		attempts    INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,

		CHECK (status IN ('queued', 'running', 'completed', 'failed'))
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_events (
		event_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id      TEXT NOT NULL REFERENCES jobs(job_id),
		event_type  TEXT NOT NULL,
		payload     TEXT NOT NULL DEFAULT '{}',
		occurred_at INTEGER NOT NULL,

		CHECK (event_type IN ('created', 'started', 'progress', 'completed', 'failed'))
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_job_events_at ON job_events(occurred_at);
`

// Init creates the queue and event tables if they do not exist.
func (q *Queue) Init(ctx context.Context) error {
	if _, err := q.h.Execute(ctx, schema); err != nil {
		return fmt.Errorf("creating job schema: %w", err)
	}
	return nil
}

// Enqueue inserts a new queued job and its created event in one transaction.
// An empty id gets a generated UUID. Returns ErrJobExists for duplicates.
func (q *Queue) Enqueue(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()

	_, err := q.h.Transaction(ctx, func(tx *store.Tx) (any, error) {
		_, err := tx.Execute(
			`INSERT INTO jobs (job_id, status, attempts, created_at) VALUES (?, ?, 0, ?)`,
			store.Text(id), store.Text(string(StatusQueued)), store.Int(usec(now)),
		)
		if err != nil {
			if store.IsConstraintViolation(err) {
				return nil, ErrJobExists
			}
			return nil, fmt.Errorf("inserting job: %w", err)
		}
		_, err = tx.Execute(
			`INSERT INTO job_events (job_id, event_type, payload, occurred_at) VALUES (?, ?, '{}', ?)`,
			store.Text(id), store.Text(string(EventCreated)), store.Int(usec(now)),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting created event: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Debug("enqueued job", "job_id", id)
	return &Job{ID: id, Status: StatusQueued, CreatedAt: now.UTC()}, nil
}

// Claim attempts the queued-to-running transition for one job. The update is
// conditional on the current status, so under concurrent attempts exactly
// one caller observes true; every other attempt is a no-op returning false.
// Claiming never touches the event log.
func (q *Queue) Claim(ctx context.Context, jobID, owner string) (bool, error) {
	n, err := q.h.Execute(ctx,
		`UPDATE jobs
		 SET status = ?, claim_owner = ?, claimed_at = ?, attempts = attempts + 1
		 WHERE job_id = ? AND status = ?`,
		store.Text(string(StatusRunning)),
		store.Text(owner),
		store.Int(usec(time.Now())),
		store.Text(jobID),
		store.Text(string(StatusQueued)),
	)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	q.logger.Debug("claimed job", "job_id", jobID, "owner", owner)
	return true, nil
}

// Complete moves a running job to completed and appends the completed event,
// atomically. Returns ErrNotClaimed when the job is not running.
func (q *Queue) Complete(ctx context.Context, jobID string, payload map[string]any) error {
	return q.finish(ctx, jobID, StatusCompleted, EventCompleted, payload)
}

// Fail moves a running job to failed and appends a failed event carrying the
// error summary. Returns ErrNotClaimed when the job is not running.
func (q *Queue) Fail(ctx context.Context, jobID, errSummary string) error {
	return q.finish(ctx, jobID, StatusFailed, EventFailed, map[string]any{"error": errSummary})
}

func (q *Queue) finish(ctx context.Context, jobID string, status Status, event EventType, payload map[string]any) error {
	encoded, err := q.encodePayload(payload)
	if err != nil {
		return err
	}
	now := usec(time.Now())

	_, err = q.h.Transaction(ctx, func(tx *store.Tx) (any, error) {
		n, err := tx.Execute(
			`UPDATE jobs SET status = ? WHERE job_id = ? AND status = ?`,
			store.Text(string(status)), store.Text(jobID), store.Text(string(StatusRunning)),
		)
		if err != nil {
			return nil, fmt.Errorf("updating job status: %w", err)
		}
		if n == 0 {
			return nil, ErrNotClaimed
		}
		_, err = tx.Execute(
			`INSERT INTO job_events (job_id, event_type, payload, occurred_at) VALUES (?, ?, ?, ?)`,
			store.Text(jobID), store.Text(string(event)), store.Text(encoded), store.Int(now),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting %s event: %w", event, err)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	q.logger.Debug("finished job", "job_id", jobID, "status", status)
	return nil
}

// Job returns one queue row, or store.ErrNotFound.
func (q *Queue) Job(ctx context.Context, jobID string) (*Job, error) {
	row, err := q.h.QueryOne(ctx,
		`SELECT job_id, status, claim_owner, claimed_at, attempts, created_at
		 FROM jobs WHERE job_id = ?`,
		store.Text(jobID),
	)
	if err != nil {
		return nil, err
	}
	return scanJob(row), nil
}

// Jobs lists queue rows, newest first, optionally filtered by status.
// A non-positive limit defaults to 100, capped at 1000.
func (q *Queue) Jobs(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT job_id, status, claim_owner, claimed_at, attempts, created_at FROM jobs`
	args := []store.Value{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, store.Text(string(status)))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, store.Int(int64(limit)))

	rows, err := q.h.QueryAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	out := make([]Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanJob(row))
	}
	return out, nil
}

// Stats returns queue-row counts by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.h.QueryAll(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("counting jobs: %w", err)
	}

	var stats Stats
	for _, row := range rows {
		count := row.Index(1).Int64()
		switch Status(row.Index(0).String()) {
		case StatusQueued:
			stats.Queued = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, nil
}

func scanJob(row store.Row) *Job {
	j := &Job{}
	if v, ok := row.Value("job_id"); ok {
		j.ID = v.String()
	}
	if v, ok := row.Value("status"); ok {
		j.Status = Status(v.String())
	}
	if v, ok := row.Value("claim_owner"); ok && !v.IsNull() {
		j.ClaimOwner = v.String()
	}
	if v, ok := row.Value("claimed_at"); ok && !v.IsNull() {
		t := fromUsec(v.Int64())
		j.ClaimedAt = &t
	}
	if v, ok := row.Value("attempts"); ok {
		j.Attempts = int(v.Int64())
	}
	if v, ok := row.Value("created_at"); ok {
		j.CreatedAt = fromUsec(v.Int64())
	}
	return j
}

// usec converts a timestamp to the unix-microsecond integers stored in the
// schema. Integer timestamps keep comparisons and aggregation exact.
func usec(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromUsec(v int64) time.Time { return time.UnixMicro(v).UTC() }
