package repair

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cqlops/cql-repairer/internal/logging"
	"github.com/cqlops/cql-repairer/internal/metrics"
	"github.com/cqlops/cql-repairer/internal/token"
)

// TableResult is the verdict for one table.
type TableResult struct {
	Keyspace string
	Table    string
	Stats    *TableStats
	Err      error
}

// OK reports whether the table's driver completed without a fatal
// error. Per-range failures do not flip this.
func (r TableResult) OK() bool {
	return r.Err == nil
}

// KeyspaceResult aggregates the table verdicts of one keyspace.
type KeyspaceResult struct {
	Keyspace string
	Tables   []TableResult
}

// OK reports whether every table in the keyspace was swept.
func (r KeyspaceResult) OK() bool {
	for _, t := range r.Tables {
		if !t.OK() {
			return false
		}
	}
	return true
}

// Options bound the two concurrency layers of a sweep. Concurrency
// limits in-flight queries within one table; Processes limits tables
// repaired in parallel. Worst-case cluster pressure is their product.
type Options struct {
	Concurrency int
	Processes   int
	Timeout     time.Duration
}

// Coordinator fans table drivers out across a bounded worker pool, one
// keyspace at a time. Every driver owns its own cluster session; the
// token range tiling is the only state shared between them, and it is
// read-only.
type Coordinator struct {
	discovery Discovery
	sessions  SessionFactory
	ranges    []token.Range
	opts      Options
	log       *slog.Logger
}

// NewCoordinator creates a sweep coordinator.
func NewCoordinator(discovery Discovery, sessions SessionFactory, ranges []token.Range, opts Options) *Coordinator {
	if opts.Processes < 1 {
		opts.Processes = 1
	}
	return &Coordinator{
		discovery: discovery,
		sessions:  sessions,
		ranges:    ranges,
		opts:      opts,
		log:       logging.Component("sweep"),
	}
}

// Sweep repairs every selected table of every selected keyspace.
// Keyspaces run sequentially in sorted order; tables within a keyspace
// run concurrently, at most Processes at a time. An empty keyspaces or
// tables selection means "everything discovered".
func (c *Coordinator) Sweep(ctx context.Context, keyspaces, tables []string) ([]KeyspaceResult, error) {
	selected := keyspaces
	if len(selected) == 0 {
		var err error
		selected, err = c.discovery.Keyspaces(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list keyspaces")
		}
	}
	selected = sortedCopy(selected)

	results := make([]KeyspaceResult, 0, len(selected))
	for _, keyspace := range selected {
		result, err := c.sweepKeyspace(ctx, keyspace, tables)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// sweepKeyspace repairs the selected tables of one keyspace and waits
// for all of them before reporting the verdict.
func (c *Coordinator) sweepKeyspace(ctx context.Context, keyspace string, tableFilter []string) (KeyspaceResult, error) {
	tables := tableFilter
	if len(tables) == 0 {
		var err error
		tables, err = c.discovery.Tables(ctx, keyspace)
		if err != nil {
			return KeyspaceResult{}, errors.Wrapf(err, "list tables of %s", keyspace)
		}
	}
	tables = sortedCopy(tables)

	c.log.Info("repairing keyspace", "keyspace", keyspace, "tables", len(tables))

	results := make([]TableResult, len(tables))
	var g errgroup.Group
	g.SetLimit(c.opts.Processes)
	for i, table := range tables {
		g.Go(func() error {
			target := Target{Keyspace: keyspace, Table: table}
			driver := NewDriver(c.sessions, c.ranges, c.opts.Concurrency, c.opts.Timeout)
			stats, err := driver.Repair(ctx, target)
			if err != nil {
				logging.TableLogger(keyspace, table).Error("table repair failed", "error", err)
				if m := metrics.Get(); m != nil {
					m.IncTableFailed(keyspace)
				}
			} else if m := metrics.Get(); m != nil {
				m.IncTableRepaired(keyspace)
			}
			results[i] = TableResult{Keyspace: keyspace, Table: table, Stats: stats, Err: err}
			// Table failures are isolated; never abort siblings.
			return nil
		})
	}
	// Workers never return errors; failures live in their result slot.
	_ = g.Wait()

	result := KeyspaceResult{Keyspace: keyspace, Tables: results}
	if result.OK() {
		c.log.Info("repaired keyspace", "keyspace", keyspace, "tables", len(tables))
	} else {
		c.log.Error("failed to repair all tables", "keyspace", keyspace, "tables", len(tables))
	}
	return result, nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
