package repair

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqlops/cql-repairer/internal/token"
)

// stubSession scripts the cluster surface a driver sees.
type stubSession struct {
	pk     []string
	pkErr  error
	repair func(ctx context.Context, stmt string, rng token.Range) (uint64, error)
	calls  atomic.Int64
	closed atomic.Bool
}

func (s *stubSession) PartitionKeyColumns(keyspace, table string) ([]string, error) {
	return s.pk, s.pkErr
}

func (s *stubSession) RepairRange(ctx context.Context, stmt string, rng token.Range) (uint64, error) {
	s.calls.Add(1)
	return s.repair(ctx, stmt, rng)
}

func (s *stubSession) Close() { s.closed.Store(true) }

func factoryFor(s *stubSession) SessionFactory {
	return func(ctx context.Context, keyspace string) (Session, error) {
		return s, nil
	}
}

func mustRanges(t *testing.T, target int) []token.Range {
	t.Helper()
	ranges, err := token.Partition(target)
	require.NoError(t, err)
	return ranges
}

func TestRepairStatement(t *testing.T) {
	stmt := RepairStatement(Target{Keyspace: "shop", Table: "orders"}, []string{"region", "order_id"})
	assert.Equal(t,
		`SELECT COUNT(1) FROM "shop"."orders" WHERE token(region, order_id) >= ? AND token(region, order_id) <= ?`,
		stmt,
	)
}

func TestRepairToleratesFailedRanges(t *testing.T) {
	ranges := mustRanges(t, 4)
	require.Len(t, ranges, 4)
	failing := ranges[1]

	session := &stubSession{
		pk: []string{"id"},
		repair: func(_ context.Context, _ string, rng token.Range) (uint64, error) {
			if rng == failing {
				return 0, errors.New("replica down")
			}
			return 10, nil
		},
	}

	driver := NewDriver(factoryFor(session), ranges, 2, time.Minute)
	stats, err := driver.Repair(context.Background(), Target{Keyspace: "shop", Table: "orders"})

	// Partial range failures never flip the table-level verdict.
	require.NoError(t, err)
	assert.Equal(t, uint64(30), stats.RepairedRows)
	assert.Equal(t, uint64(3), stats.RepairedPartitions)
	assert.Equal(t, uint64(1), stats.FailedPartitions)
	assert.True(t, session.closed.Load())
}

func TestRepairAttemptsEveryRange(t *testing.T) {
	ranges := mustRanges(t, 16)
	var failed atomic.Int64

	session := &stubSession{
		pk: []string{"id"},
		repair: func(_ context.Context, _ string, rng token.Range) (uint64, error) {
			// Fail every third range; the driver must keep dispatching.
			if rng.Start%3 == 0 {
				failed.Add(1)
				return 0, errors.New("overloaded")
			}
			return 1, nil
		},
	}

	driver := NewDriver(factoryFor(session), ranges, 4, time.Minute)
	stats, err := driver.Repair(context.Background(), Target{Keyspace: "ks", Table: "t"})

	require.NoError(t, err)
	assert.Equal(t, int64(len(ranges)), session.calls.Load())
	assert.Equal(t, uint64(len(ranges)), stats.Attempted())
	assert.Equal(t, uint64(failed.Load()), stats.FailedPartitions)
}

func TestRepairFatalOnSessionFailure(t *testing.T) {
	factory := func(ctx context.Context, keyspace string) (Session, error) {
		return nil, errors.New("no route to cluster")
	}

	driver := NewDriver(factory, mustRanges(t, 4), 2, time.Minute)
	stats, err := driver.Repair(context.Background(), Target{Keyspace: "ks", Table: "t"})

	require.Error(t, err)
	assert.Nil(t, stats)
}

func TestRepairFatalOnMetadataFailure(t *testing.T) {
	tests := []struct {
		name    string
		session *stubSession
	}{
		{"metadata error", &stubSession{pkErr: errors.New("schema disagreement")}},
		{"no partition key", &stubSession{pk: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := NewDriver(factoryFor(tt.session), mustRanges(t, 4), 2, time.Minute)
			_, err := driver.Repair(context.Background(), Target{Keyspace: "ks", Table: "t"})
			require.Error(t, err)
			assert.True(t, tt.session.closed.Load(), "session must be closed on fatal error")
		})
	}
}

func TestRepairBoundsInFlightQueries(t *testing.T) {
	const concurrency = 3

	ranges := mustRanges(t, 10)
	var inFlight, maxInFlight atomic.Int64
	arrivals := make(chan struct{}, len(ranges))
	releases := make(chan struct{})

	session := &stubSession{pk: []string{"id"}}
	session.repair = func(_ context.Context, _ string, _ token.Range) (uint64, error) {
		cur := inFlight.Add(1)
		for {
			seen := maxInFlight.Load()
			if cur <= seen || maxInFlight.CompareAndSwap(seen, cur) {
				break
			}
		}
		arrivals <- struct{}{}
		<-releases
		inFlight.Add(-1)
		return 1, nil
	}

	driver := NewDriver(factoryFor(session), ranges, concurrency, time.Minute)

	type repairResult struct {
		stats *TableStats
		err   error
	}
	done := make(chan repairResult, 1)
	go func() {
		stats, err := driver.Repair(context.Background(), Target{Keyspace: "ks", Table: "t"})
		done <- repairResult{stats, err}
	}()

	// Let the dispatcher saturate the semaphore before releasing
	// anything, then drain the rest.
	for i := 0; i < concurrency; i++ {
		<-arrivals
	}
	for i := 0; i < len(ranges); i++ {
		releases <- struct{}{}
	}

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, uint64(len(ranges)), result.stats.RepairedPartitions)
	assert.Equal(t, int64(concurrency), maxInFlight.Load())
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"context deadline", context.DeadlineExceeded, FailureTimeout},
		{"driver timeout", gocql.ErrTimeoutNoResponse, FailureTimeout},
		{"unavailable", &gocql.RequestErrUnavailable{}, FailureUnavailable},
		{"anything else", errors.New("boom"), FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err))
		})
	}
}
