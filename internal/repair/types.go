// Package repair drives full-range read repair sweeps: every token
// range of every targeted table is read once at consistency ALL so the
// cluster reconciles divergent replicas as a side effect of the read.
package repair

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"

	"github.com/cqlops/cql-repairer/internal/token"
)

// Target identifies one table to sweep.
type Target struct {
	Keyspace string
	Table    string
}

func (t Target) String() string {
	return t.Keyspace + "." + t.Table
}

// Outcome is the result of repairing a single token range. Outcomes
// arrive in completion order, not submission order.
type Outcome struct {
	Range token.Range
	Rows  uint64
	Err   error
}

// FailureKind buckets per-range failure causes for summary reporting.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureUnavailable FailureKind = "unavailable"
	FailureOther       FailureKind = "other"
)

// failureKinds is the fixed reporting order.
var failureKinds = []FailureKind{FailureTimeout, FailureUnavailable, FailureOther}

// TableStats accumulates per-table repair counters. A single driver
// invocation owns it and mutates it only from the outcome-consuming
// loop, so it needs no locking.
type TableStats struct {
	RepairedRows       uint64
	RepairedPartitions uint64
	FailedPartitions   uint64
	Failures           map[FailureKind]uint64
}

// NewTableStats returns a zeroed accumulator.
func NewTableStats() *TableStats {
	return &TableStats{Failures: make(map[FailureKind]uint64)}
}

// Attempted is the number of ranges already delivered, successful or not.
func (s *TableStats) Attempted() uint64 {
	return s.RepairedPartitions + s.FailedPartitions
}

// classifyFailure maps a range-query error onto a FailureKind.
func classifyFailure(err error) FailureKind {
	var unavailable *gocql.RequestErrUnavailable
	var readTimeout *gocql.RequestErrReadTimeout
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.As(err, &readTimeout):
		return FailureTimeout
	case errors.As(err, &unavailable):
		return FailureUnavailable
	default:
		return FailureOther
	}
}

// Session is the per-worker view of the cluster used to repair one
// table. Each driver owns exactly one session for its whole run.
type Session interface {
	// PartitionKeyColumns resolves the partition key of a table in
	// column order.
	PartitionKeyColumns(keyspace, table string) ([]string, error)
	// RepairRange executes one range-scoped repair read at the
	// strongest consistency level and returns the row count.
	RepairRange(ctx context.Context, stmt string, rng token.Range) (uint64, error)
	Close()
}

// SessionFactory opens a fresh session bound to a keyspace. Sessions
// are never shared between drivers.
type SessionFactory func(ctx context.Context, keyspace string) (Session, error)

// Discovery lists keyspaces and tables from cluster metadata.
type Discovery interface {
	Keyspaces(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, keyspace string) ([]string, error)
}
