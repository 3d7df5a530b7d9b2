// ABOUTME: Append-only job event log, derived latest-event view, retention
// ABOUTME: Events are immutable; removal happens only via an explicit sweep

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quarrydb/quarry/internal/store"
)

// EventType enumerates job lifecycle transitions.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one immutable row of the audit log.
type Event struct {
	ID         int64
	JobID      string
	Type       EventType
	Payload    map[string]any
	OccurredAt time.Time
}

// JobState is the derived, display-only view of a job: the event with the
// latest timestamp gives the effective status and details, the earliest
// gives the creation time. It is recomputed on every query and must never
// gate a claim decision; claiming reads and writes the queue table only.
type JobState struct {
	JobID     string
	Status    EventType
	Details   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppendEvent inserts one lifecycle event. A zero occurredAt means now.
// The serialized payload must fit the configured ceiling.
func (q *Queue) AppendEvent(ctx context.Context, jobID string, typ EventType, payload map[string]any, occurredAt time.Time) error {
	encoded, err := q.encodePayload(payload)
	if err != nil {
		return err
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err = q.h.Execute(ctx,
		`INSERT INTO job_events (job_id, event_type, payload, occurred_at) VALUES (?, ?, ?, ?)`,
		store.Text(jobID), store.Text(string(typ)), store.Text(encoded), store.Int(usec(occurredAt)),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// AppendEvents inserts a group of lifecycle events as one all-or-nothing
// batch. Grouping inserts keeps the write pattern friendly to the store;
// emitters should prefer this over row-at-a-time appends.
func (q *Queue) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	stmts := make([]store.Statement, 0, len(events))
	for i, ev := range events {
		encoded, err := q.encodePayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		at := ev.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}
		stmts = append(stmts, store.Statement{
			SQL: `INSERT INTO job_events (job_id, event_type, payload, occurred_at) VALUES (?, ?, ?, ?)`,
			Args: []store.Value{
				store.Text(ev.JobID),
				store.Text(string(ev.Type)),
				store.Text(encoded),
				store.Int(usec(at)),
			},
		})
	}

	if _, err := q.h.ExecuteBatch(ctx, stmts); err != nil {
		return fmt.Errorf("appending %d events: %w", len(events), err)
	}
	q.logger.Debug("appended events", "count", len(events))
	return nil
}

// Events lists a job's events in occurrence order.
// A non-positive limit defaults to 100, capped at 1000.
func (q *Queue) Events(ctx context.Context, jobID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := q.h.QueryAll(ctx,
		`SELECT event_id, job_id, event_type, payload, occurred_at
		 FROM job_events
		 WHERE job_id = ?
		 ORDER BY occurred_at ASC, event_id ASC
		 LIMIT ?`,
		store.Text(jobID), store.Int(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := scanEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// stateQuery ranks each job's events newest-first (event id breaks timestamp
// ties) and keeps the top row alongside the min/max timestamps.
const stateQuery = `
	SELECT job_id, event_type, payload, first_seen, last_seen FROM (
		SELECT job_id, event_type, payload,
		       ROW_NUMBER() OVER (PARTITION BY job_id ORDER BY occurred_at DESC, event_id DESC) AS rn,
		       MIN(occurred_at) OVER (PARTITION BY job_id) AS first_seen,
		       MAX(occurred_at) OVER (PARTITION BY job_id) AS last_seen
		FROM job_events
	) WHERE rn = 1
`

// State computes the derived view for one job, or store.ErrNotFound when the
// job has no events.
func (q *Queue) State(ctx context.Context, jobID string) (*JobState, error) {
	row, err := q.h.QueryOne(ctx, stateQuery+` AND job_id = ?`, store.Text(jobID))
	if err != nil {
		return nil, err
	}
	return scanState(row)
}

// States computes the derived view across jobs, most recently updated first.
// A non-positive limit defaults to 100, capped at 1000.
func (q *Queue) States(ctx context.Context, limit int) ([]JobState, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := q.h.QueryAll(ctx, stateQuery+` ORDER BY last_seen DESC LIMIT ?`, store.Int(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("listing job states: %w", err)
	}

	out := make([]JobState, 0, len(rows))
	for _, row := range rows {
		st, err := scanState(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// PruneEvents deletes events of completed jobs that occurred before cutoff.
// Events of jobs in any other status are retained unconditionally. This is
// the only path that removes event rows, and it runs only when invoked.
func (q *Queue) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := q.h.Execute(ctx,
		`DELETE FROM job_events
		 WHERE occurred_at < ?
		   AND job_id IN (SELECT job_id FROM jobs WHERE status = ?)`,
		store.Int(usec(cutoff)), store.Text(string(StatusCompleted)),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	if n > 0 {
		q.logger.Info("pruned events", "count", n, "cutoff", cutoff.UTC())
	}
	return n, nil
}

// encodePayload serializes a payload and enforces the size ceiling. The
// limit applies to the serialized form; oversize payloads never reach the
// mailbox.
func (q *Queue) encodePayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if len(data) > q.payloadLimit {
		return "", fmt.Errorf("payload is %d bytes, limit is %d", len(data), q.payloadLimit)
	}
	return string(data), nil
}

func decodePayload(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}

func scanEvent(row store.Row) (Event, error) {
	var ev Event
	if v, ok := row.Value("event_id"); ok {
		ev.ID = v.Int64()
	}
	if v, ok := row.Value("job_id"); ok {
		ev.JobID = v.String()
	}
	if v, ok := row.Value("event_type"); ok {
		ev.Type = EventType(v.String())
	}
	if v, ok := row.Value("payload"); ok {
		payload, err := decodePayload(v.String())
		if err != nil {
			return Event{}, err
		}
		ev.Payload = payload
	}
	if v, ok := row.Value("occurred_at"); ok {
		ev.OccurredAt = fromUsec(v.Int64())
	}
	return ev, nil
}

func scanState(row store.Row) (*JobState, error) {
	st := &JobState{}
	if v, ok := row.Value("job_id"); ok {
		st.JobID = v.String()
	}
	if v, ok := row.Value("event_type"); ok {
		st.Status = EventType(v.String())
	}
	if v, ok := row.Value("payload"); ok {
		details, err := decodePayload(v.String())
		if err != nil {
			return nil, err
		}
		st.Details = details
	}
	if v, ok := row.Value("first_seen"); ok {
		st.CreatedAt = fromUsec(v.Int64())
	}
	if v, ok := row.Value("last_seen"); ok {
		st.UpdatedAt = fromUsec(v.Int64())
	}
	return st, nil
}
