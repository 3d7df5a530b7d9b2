package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountsByTypeAndOutcome(t *testing.T) {
	c := NewCollector()

	c.Observe("execute", OutcomeOK, time.Millisecond, 2*time.Millisecond, 0)
	c.Observe("execute", OutcomeOK, time.Millisecond, time.Millisecond, 0)
	c.Observe("execute", OutcomeError, time.Millisecond, time.Millisecond, 0)
	c.Observe("query_all", OutcomeOK, time.Millisecond, time.Millisecond, 0)

	snap := c.Snapshot()
	require.Len(t, snap.Types, 2)

	// Types are sorted by name.
	assert.Equal(t, "execute", snap.Types[0].Type)
	assert.Equal(t, int64(2), snap.Types[0].Outcomes[OutcomeOK])
	assert.Equal(t, int64(1), snap.Types[0].Outcomes[OutcomeError])
	assert.Equal(t, "query_all", snap.Types[1].Type)
	assert.Equal(t, int64(3), snap.Types[0].QueueWait.Count)
}

func TestCollector_BatchSizes(t *testing.T) {
	c := NewCollector()
	c.Observe("execute_batch", OutcomeOK, 0, time.Millisecond, 4)
	c.Observe("execute_batch", OutcomeOK, 0, time.Millisecond, 8)

	snap := c.Snapshot()
	require.Len(t, snap.Types, 1)
	batch := snap.Types[0].Batch
	assert.Equal(t, int64(2), batch.Count)
	assert.Equal(t, 4.0, batch.Min)
	assert.Equal(t, 8.0, batch.Max)
	assert.InDelta(t, 6.0, batch.Mean(), 1e-9)
}

func TestSnapshot_TextRendering(t *testing.T) {
	c := NewCollector()
	c.Observe("execute", OutcomeOK, time.Millisecond, 2*time.Millisecond, 0)
	c.Observe("execute_batch", OutcomeError, time.Millisecond, time.Millisecond, 6)

	snap := c.Snapshot()
	snap.QueueDepth = 3
	text := snap.String()

	assert.Contains(t, text, "quarry_uptime_seconds")
	assert.Contains(t, text, "quarry_mailbox_depth 3")
	assert.Contains(t, text, `quarry_requests_total{type="execute",outcome="ok"} 1`)
	assert.Contains(t, text, `quarry_requests_total{type="execute_batch",outcome="error"} 1`)
	assert.Contains(t, text, `quarry_queue_wait_seconds{type="execute",quantile="0.5"}`)
	assert.Contains(t, text, `quarry_exec_seconds{type="execute",quantile="0.99"}`)
	assert.Contains(t, text, `quarry_batch_size{type="execute_batch",stat="max"} 6`)

	// One metric per line, no blank padding lines.
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		assert.NotEmpty(t, line)
	}
}

func TestSnapshot_EmptyCollector(t *testing.T) {
	c := NewCollector()
	text := c.Snapshot().String()
	assert.Contains(t, text, "quarry_uptime_seconds")
	assert.Contains(t, text, "quarry_mailbox_depth 0")
	assert.NotContains(t, text, "quarry_requests_total")
}
