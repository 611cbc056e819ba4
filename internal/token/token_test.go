package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionCoversFullTokenSpace(t *testing.T) {
	for _, target := range []int{1, 2, 3, 4, 5, 7, 100, 10000} {
		ranges, err := Partition(target)
		require.NoError(t, err, "target=%d", target)
		require.NotEmpty(t, ranges, "target=%d", target)

		require.Equal(t, MinToken, ranges[0].Start, "target=%d: first range must start at MinToken", target)
		require.Equal(t, MaxToken, ranges[len(ranges)-1].End, "target=%d: last range must end at MaxToken", target)

		for i, r := range ranges {
			require.LessOrEqual(t, r.Start, r.End, "target=%d range=%d: inverted range", target, i)
			if i > 0 {
				// No gaps and no overlaps: each range starts one past
				// the previous end.
				require.Equal(t, ranges[i-1].End+1, r.Start, "target=%d range=%d", target, i)
			}
		}
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	a, err := Partition(10000)
	require.NoError(t, err)
	b, err := Partition(10000)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPartitionTargetFour(t *testing.T) {
	ranges, err := Partition(4)
	require.NoError(t, err)
	require.Len(t, ranges, 4)
	require.Equal(t, MinToken, ranges[0].Start)
	require.Equal(t, MaxToken, ranges[3].End)
}

func TestPartitionDegenerateTargets(t *testing.T) {
	tests := []struct {
		name   string
		target int
		want   int
	}{
		{"zero clamps to one range", 0, 1},
		{"negative clamps to one range", -5, 1},
		{"one yields the whole space", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges, err := Partition(tt.target)
			require.NoError(t, err)
			require.Len(t, ranges, tt.want)
			require.Equal(t, MinToken, ranges[0].Start)
			require.Equal(t, MaxToken, ranges[len(ranges)-1].End)
		})
	}
}

func TestPartitionApproximatesTargetCount(t *testing.T) {
	// Truncating division can only add a handful of extra ranges.
	for _, target := range []int{10, 1000, 10000} {
		ranges, err := Partition(target)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(ranges), target-1)
		require.LessOrEqual(t, len(ranges), target+1)
	}
}
