package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/store"
)

var epoch = time.Unix(0, 0).UTC()

// insertJob creates a queue row directly with a fixed created_at so event
// timestamps can be chosen exactly.
func insertJob(t *testing.T, h *store.Handle, jobID string, status Status, createdAt time.Time) {
	t.Helper()
	_, err := h.Execute(context.Background(),
		`INSERT INTO jobs (job_id, status, attempts, created_at) VALUES (?, ?, 0, ?)`,
		store.Text(jobID), store.Text(string(status)), store.Int(usec(createdAt)),
	)
	require.NoError(t, err)
}

func TestEvents_AppendAndList(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-1", StatusRunning, epoch)

	require.NoError(t, q.AppendEvent(ctx, "job-1", EventStarted, nil, epoch.Add(time.Second)))
	require.NoError(t, q.AppendEvent(ctx, "job-1", EventProgress, map[string]any{"pct": 50}, epoch.Add(2*time.Second)))

	events, err := q.Events(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.True(t, events[0].OccurredAt.Before(events[1].OccurredAt))
	assert.EqualValues(t, 50, events[1].Payload["pct"])
}

func TestEvents_AppendBatch(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-1", StatusRunning, epoch)

	batch := []Event{
		{JobID: "job-1", Type: EventStarted, OccurredAt: epoch.Add(time.Second)},
		{JobID: "job-1", Type: EventProgress, Payload: map[string]any{"pct": 25}, OccurredAt: epoch.Add(2 * time.Second)},
		{JobID: "job-1", Type: EventProgress, Payload: map[string]any{"pct": 75}, OccurredAt: epoch.Add(3 * time.Second)},
	}
	require.NoError(t, q.AppendEvents(ctx, batch))

	events, err := q.Events(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestEvents_AppendBatchEmpty(t *testing.T) {
	q, _ := setupTestQueue(t)
	require.NoError(t, q.AppendEvents(context.Background(), nil))
}

func TestEvents_PayloadCeiling(t *testing.T) {
	_, h := setupTestQueue(t)
	q := New(h, Options{PayloadLimit: 64})
	ctx := context.Background()
	insertJob(t, h, "job-1", StatusRunning, epoch)

	small := map[string]any{"ok": true}
	require.NoError(t, q.AppendEvent(ctx, "job-1", EventProgress, small, epoch.Add(time.Second)))

	big := map[string]any{"blob": string(make([]byte, 200))}
	err := q.AppendEvent(ctx, "job-1", EventProgress, big, epoch.Add(2*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 64")

	// The oversize payload was rejected before any write happened.
	events, err := q.Events(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestState_LatestEventWins(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-1", StatusCompleted, epoch)

	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-1", Type: EventCreated, OccurredAt: epoch},
		{JobID: "job-1", Type: EventStarted, OccurredAt: epoch.Add(time.Second)},
		{JobID: "job-1", Type: EventCompleted, Payload: map[string]any{"rows": 12}, OccurredAt: epoch.Add(3 * time.Second)},
	}))

	st, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, st.Status)
	assert.EqualValues(t, 12, st.Details["rows"])
	assert.Equal(t, epoch, st.CreatedAt)
	assert.Equal(t, epoch.Add(3*time.Second), st.UpdatedAt)
}

func TestState_FailureDetails(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-7", StatusFailed, epoch)

	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-7", Type: EventCreated, OccurredAt: epoch},
		{JobID: "job-7", Type: EventFailed, Payload: map[string]any{"error": "parse_error"}, OccurredAt: epoch.Add(2 * time.Second)},
	}))

	st, err := q.State(ctx, "job-7")
	require.NoError(t, err)
	assert.Equal(t, EventFailed, st.Status)
	assert.Equal(t, "parse_error", st.Details["error"])
	assert.Equal(t, epoch.Add(2*time.Second), st.UpdatedAt)
}

func TestState_TimestampTieBreaksOnEventID(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-1", StatusRunning, epoch)

	// Two events share a timestamp; the later insert wins.
	at := epoch.Add(time.Second)
	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-1", Type: EventStarted, OccurredAt: at},
		{JobID: "job-1", Type: EventProgress, Payload: map[string]any{"pct": 10}, OccurredAt: at},
	}))

	st, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, EventProgress, st.Status)
}

func TestState_NoEvents(t *testing.T) {
	q, h := setupTestQueue(t)
	insertJob(t, h, "job-1", StatusQueued, epoch)

	_, err := q.State(context.Background(), "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStates_OrderedByRecency(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-old", StatusRunning, epoch)
	insertJob(t, h, "job-new", StatusRunning, epoch)

	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-old", Type: EventStarted, OccurredAt: epoch.Add(time.Second)},
		{JobID: "job-new", Type: EventStarted, OccurredAt: epoch.Add(5 * time.Second)},
	}))

	states, err := q.States(ctx, 0)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "job-new", states[0].JobID)
	assert.Equal(t, "job-old", states[1].JobID)
}

func TestPruneEvents_CompletedOnly(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-done", StatusCompleted, epoch)
	insertJob(t, h, "job-live", StatusRunning, epoch)

	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-done", Type: EventCreated, OccurredAt: epoch},
		{JobID: "job-done", Type: EventCompleted, OccurredAt: epoch.Add(time.Second)},
		{JobID: "job-live", Type: EventCreated, OccurredAt: epoch},
		{JobID: "job-live", Type: EventStarted, OccurredAt: epoch.Add(time.Second)},
	}))

	// Cutoff past every event: only the completed job's events go.
	n, err := q.PruneEvents(ctx, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	gone, err := q.Events(ctx, "job-done", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := q.Events(ctx, "job-live", 0)
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestPruneEvents_RespectsCutoff(t *testing.T) {
	q, h := setupTestQueue(t)
	ctx := context.Background()
	insertJob(t, h, "job-done", StatusCompleted, epoch)

	require.NoError(t, q.AppendEvents(ctx, []Event{
		{JobID: "job-done", Type: EventCreated, OccurredAt: epoch},
		{JobID: "job-done", Type: EventCompleted, OccurredAt: epoch.Add(time.Hour)},
	}))

	n, err := q.PruneEvents(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := q.Events(ctx, "job-done", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].Type)
}
