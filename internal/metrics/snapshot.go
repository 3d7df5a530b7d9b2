// ABOUTME: Point-in-time metrics snapshot and its plain-text rendering
// ABOUTME: One line per metric, suitable for external tooling to poll

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// DistributionSnapshot is a frozen duration or size summary.
type DistributionSnapshot struct {
	Count     int64
	Sum       float64
	Min       float64
	Max       float64
	Quantiles map[float64]float64
}

// Mean returns the arithmetic mean, or zero with no samples.
func (d DistributionSnapshot) Mean() float64 {
	if d.Count == 0 {
		return 0
	}
	return d.Sum / float64(d.Count)
}

// TypeSnapshot is the frozen state for one request type.
type TypeSnapshot struct {
	Type      string
	Outcomes  map[Outcome]int64
	QueueWait DistributionSnapshot
	Exec      DistributionSnapshot
	Batch     DistributionSnapshot
}

// Snapshot is a point-in-time copy of the collector plus actor-level gauges.
type Snapshot struct {
	Taken      time.Time
	Uptime     time.Duration
	QueueDepth int
	Types      []TypeSnapshot
}

// WriteTo renders the snapshot as plain text, one line per metric.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	var total int64
	emit := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}

	if err := emit("quarry_uptime_seconds %.3f\n", s.Uptime.Seconds()); err != nil {
		return total, err
	}
	if err := emit("quarry_mailbox_depth %d\n", s.QueueDepth); err != nil {
		return total, err
	}

	for _, t := range s.Types {
		outcomes := make([]string, 0, len(t.Outcomes))
		for o := range t.Outcomes {
			outcomes = append(outcomes, string(o))
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			if err := emit("quarry_requests_total{type=%q,outcome=%q} %d\n", t.Type, o, t.Outcomes[Outcome(o)]); err != nil {
				return total, err
			}
		}
		if err := emitDistribution(emit, "quarry_queue_wait_seconds", t.Type, t.QueueWait); err != nil {
			return total, err
		}
		if err := emitDistribution(emit, "quarry_exec_seconds", t.Type, t.Exec); err != nil {
			return total, err
		}
		if t.Batch.Count > 0 {
			if err := emit("quarry_batch_size{type=%q,stat=\"min\"} %g\n", t.Type, t.Batch.Min); err != nil {
				return total, err
			}
			if err := emit("quarry_batch_size{type=%q,stat=\"mean\"} %.2f\n", t.Type, t.Batch.Mean()); err != nil {
				return total, err
			}
			if err := emit("quarry_batch_size{type=%q,stat=\"max\"} %g\n", t.Type, t.Batch.Max); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func emitDistribution(emit func(string, ...any) error, name, reqType string, d DistributionSnapshot) error {
	if d.Count == 0 {
		return nil
	}
	for _, q := range quantiles {
		if err := emit("%s{type=%q,quantile=\"%g\"} %.6f\n", name, reqType, q, d.Quantiles[q]); err != nil {
			return err
		}
	}
	return nil
}

// String renders the snapshot via WriteTo.
func (s Snapshot) String() string {
	var b strings.Builder
	_, _ = s.WriteTo(&b)
	return b.String()
}
