package repair

import (
	"fmt"
	"log/slog"
)

// Tracker bounds progress output to at most one line per integer
// percentage point, no matter how many ranges a table has. Failed
// ranges count toward completion so a struggling table still advances
// visibly.
type Tracker struct {
	log         *slog.Logger
	total       int
	lastPercent int
}

// NewTracker creates a tracker for one table's sweep.
func NewTracker(log *slog.Logger, totalRanges int) *Tracker {
	return &Tracker{log: log, total: totalRanges}
}

// Report folds one more delivered range into the visible progress. A
// line is emitted only when the integer percentage strictly exceeds
// the last emitted value.
func (t *Tracker) Report(stats *TableStats) {
	if t.total <= 0 {
		return
	}
	percent := int(stats.Attempted() * 100 / uint64(t.total))
	if percent <= t.lastPercent {
		return
	}
	t.lastPercent = percent
	t.log.Info("progress",
		"rows", stats.RepairedRows,
		"partitions", fmt.Sprintf("%d/%d", stats.RepairedPartitions, t.total),
		"failed", stats.FailedPartitions,
		"percent", percent,
	)
}

// Finish emits the end-of-table summary unconditionally, covering the
// case where the final deliveries never crossed a new percent point.
func (t *Tracker) Finish(stats *TableStats) {
	attrs := []any{
		"rows", stats.RepairedRows,
		"partitions", fmt.Sprintf("%d/%d", stats.RepairedPartitions, t.total),
		"failed", stats.FailedPartitions,
	}
	for _, kind := range failureKinds {
		if n := stats.Failures[kind]; n > 0 {
			attrs = append(attrs, "failed_"+string(kind), n)
		}
	}
	t.log.Info("table swept", attrs...)
}
