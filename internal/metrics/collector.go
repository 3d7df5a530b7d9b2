// ABOUTME: Request instrumentation collector with bounded memory
// ABOUTME: Counts outcomes and estimates latency percentiles per request type

package metrics

import (
	"sort"
	"sync"
	"time"
)

// Outcome labels how a request finished.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeError    Outcome = "error"
	OutcomeCanceled Outcome = "canceled"
	OutcomeShutdown Outcome = "shutdown"
)

// quantiles tracked per latency distribution.
var quantiles = []float64{0.5, 0.95, 0.99}

// distribution is a streaming summary of a duration series.
type distribution struct {
	count      int64
	sum        float64
	min        float64
	max        float64
	estimators []*Estimator
}

func newDistribution() *distribution {
	d := &distribution{}
	for _, q := range quantiles {
		d.estimators = append(d.estimators, NewEstimator(q))
	}
	return d
}

func (d *distribution) observe(v float64) {
	if d.count == 0 || v < d.min {
		d.min = v
	}
	if v > d.max {
		d.max = v
	}
	d.count++
	d.sum += v
	for _, e := range d.estimators {
		e.Observe(v)
	}
}

func (d *distribution) snapshot() DistributionSnapshot {
	s := DistributionSnapshot{
		Count:     d.count,
		Sum:       d.sum,
		Min:       d.min,
		Max:       d.max,
		Quantiles: make(map[float64]float64, len(quantiles)),
	}
	for i, q := range quantiles {
		s.Quantiles[q] = d.estimators[i].Value()
	}
	return s
}

// typeStats accumulates everything tracked for one request type.
type typeStats struct {
	outcomes  map[Outcome]int64
	queueWait *distribution
	exec      *distribution
	batch     *distribution
}

func newTypeStats() *typeStats {
	return &typeStats{
		outcomes:  make(map[Outcome]int64),
		queueWait: newDistribution(),
		exec:      newDistribution(),
		batch:     newDistribution(),
	}
}

// Collector records one sample per processed request. All state is bounded:
// a fixed set of request types, each with counters and five-marker quantile
// estimators. The collector's lifetime is tied to its actor; there is no
// reset short of building a new one.
type Collector struct {
	mu    sync.Mutex
	start time.Time
	types map[string]*typeStats
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		start: time.Now(),
		types: make(map[string]*typeStats),
	}
}

// Observe records one processed request. batchSize is zero for non-batch
// requests. The call does a mutexed map update and returns; it never blocks
// on anything external.
func (c *Collector) Observe(reqType string, outcome Outcome, queueWait, exec time.Duration, batchSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.types[reqType]
	if ts == nil {
		ts = newTypeStats()
		c.types[reqType] = ts
	}
	ts.outcomes[outcome]++
	ts.queueWait.observe(queueWait.Seconds())
	ts.exec.observe(exec.Seconds())
	if batchSize > 0 {
		ts.batch.observe(float64(batchSize))
	}
}

// Snapshot returns a point-in-time copy of everything the collector holds.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Taken:  time.Now(),
		Uptime: time.Since(c.start),
	}
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ts := c.types[name]
		t := TypeSnapshot{
			Type:      name,
			Outcomes:  make(map[Outcome]int64, len(ts.outcomes)),
			QueueWait: ts.queueWait.snapshot(),
			Exec:      ts.exec.snapshot(),
			Batch:     ts.batch.snapshot(),
		}
		for o, n := range ts.outcomes {
			t.Outcomes[o] = n
		}
		snap.Types = append(snap.Types, t)
	}
	return snap
}
