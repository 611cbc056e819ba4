// Package token partitions the cluster's hash-ring token space into
// contiguous scan ranges.
package token

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Bounds of the Murmur3 token space. The ring never produces
// math.MinInt64, so the lowest addressable token is -MaxInt64.
const (
	MinToken int64 = -math.MaxInt64
	MaxToken int64 = math.MaxInt64
)

// Range is a contiguous interval of token space, inclusive at both ends.
type Range struct {
	Start int64
	End   int64
}

// Partition tiles the full token space into roughly target ranges. The
// tiling is deterministic, gap-free and overlap-free: the first range
// starts at MinToken, each subsequent range starts one past the
// previous end, and the last range is clamped to end exactly at
// MaxToken. target is an approximate count, not an exact one, because
// the range width comes from integer division.
func Partition(target int) ([]Range, error) {
	if target < 1 {
		target = 1
	}

	// Offsets from MinToken, tracked in uint64 because the full span
	// (2 * MaxInt64) does not fit in an int64.
	span := uint64(math.MaxInt64) * 2
	size := span / uint64(target)
	if size == 0 {
		return nil, errors.Newf("partition size %d produces zero-width token ranges", target)
	}

	ranges := make([]Range, 0, target)
	var off uint64
	for {
		if size >= span-off {
			ranges = append(ranges, Range{Start: tokenAt(off), End: MaxToken})
			return ranges, nil
		}
		end := off + size
		ranges = append(ranges, Range{Start: tokenAt(off), End: tokenAt(end)})
		off = end + 1
	}
}

// tokenAt maps an offset in [0, span] back onto the signed token space.
// The addition wraps through the unsigned representation of MinToken.
func tokenAt(off uint64) int64 {
	minBits := uint64(math.MaxInt64) + 2 // two's complement of MinToken
	return int64(minBits + off)
}
