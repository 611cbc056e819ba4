package repair

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cqlops/cql-repairer/internal/logging"
	"github.com/cqlops/cql-repairer/internal/metrics"
	"github.com/cqlops/cql-repairer/internal/token"
)

// Driver repairs a single table by issuing one repair read per token
// range with bounded in-flight concurrency. Per-range failures are
// counted and tolerated; only a setup failure (no session, no
// metadata) fails the table.
type Driver struct {
	sessions    SessionFactory
	ranges      []token.Range
	concurrency int
	timeout     time.Duration
}

// NewDriver creates a driver over a shared, read-only range tiling.
func NewDriver(sessions SessionFactory, ranges []token.Range, concurrency int, timeout time.Duration) *Driver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Driver{
		sessions:    sessions,
		ranges:      ranges,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// RepairStatement builds the range-scoped repair read for a table.
// Counting forces the cluster to read every row in range; at
// consistency ALL every replica must answer and be reconciled.
func RepairStatement(target Target, partitionKey []string) string {
	cols := strings.Join(partitionKey, ", ")
	return fmt.Sprintf("SELECT COUNT(1) FROM %q.%q WHERE token(%s) >= ? AND token(%s) <= ?",
		target.Keyspace, target.Table, cols, cols)
}

// Repair sweeps every token range of one table. The returned stats
// always satisfy Attempted() == len(ranges) when err is nil.
func (d *Driver) Repair(ctx context.Context, target Target) (*TableStats, error) {
	log := logging.TableLogger(target.Keyspace, target.Table)

	if m := metrics.Get(); m != nil {
		m.ActiveTables.Inc()
		defer m.ActiveTables.Dec()
	}

	session, err := d.sessions(ctx, target.Keyspace)
	if err != nil {
		return nil, errors.Wrapf(err, "connect for %s", target)
	}
	defer session.Close()

	partitionKey, err := session.PartitionKeyColumns(target.Keyspace, target.Table)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve partition key of %s", target)
	}
	if len(partitionKey) == 0 {
		return nil, errors.Newf("%s has no partition key columns", target)
	}
	log.Info("partition key resolved", "columns", strings.Join(partitionKey, ", "))

	stmt := RepairStatement(target, partitionKey)

	stats := NewTableStats()
	tracker := NewTracker(log, len(d.ranges))

	for outcome := range d.dispatch(ctx, session, target, stmt) {
		if outcome.Err != nil {
			stats.FailedPartitions++
			stats.Failures[classifyFailure(outcome.Err)]++
			log.Debug("range repair failed",
				"start", outcome.Range.Start,
				"end", outcome.Range.End,
				"error", outcome.Err,
			)
			if m := metrics.Get(); m != nil {
				m.IncRangeFailed(target.Keyspace, target.Table)
			}
		} else {
			stats.RepairedRows += outcome.Rows
			stats.RepairedPartitions++
			if m := metrics.Get(); m != nil {
				m.IncRangeRepaired(target.Keyspace, target.Table, outcome.Rows)
			}
		}
		tracker.Report(stats)
	}
	tracker.Finish(stats)

	return stats, nil
}

// dispatch issues one repair read per range with at most
// d.concurrency in flight. Outcomes are delivered on the returned
// channel in completion order; the channel closes after the last
// range has been attempted. Nothing here aborts on a failed range.
func (d *Driver) dispatch(ctx context.Context, session Session, target Target, stmt string) <-chan Outcome {
	outcomes := make(chan Outcome)
	sem := make(chan struct{}, d.concurrency)

	go func() {
		var wg sync.WaitGroup
		for _, rng := range d.ranges {
			sem <- struct{}{}
			wg.Add(1)
			go func(rng token.Range) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes <- d.executeRange(ctx, session, target, stmt, rng)
			}(rng)
		}
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// executeRange runs one repair read under its own timeout.
func (d *Driver) executeRange(ctx context.Context, session Session, target Target, stmt string, rng token.Range) Outcome {
	queryCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m := metrics.Get()
	if m != nil {
		m.InFlightQueries.Inc()
	}
	started := time.Now()
	rows, err := session.RepairRange(queryCtx, stmt, rng)
	if m != nil {
		m.InFlightQueries.Dec()
		m.ObserveRangeQueryDuration(target.Keyspace, target.Table, time.Since(started).Seconds())
	}

	return Outcome{Range: rng, Rows: rows, Err: err}
}
