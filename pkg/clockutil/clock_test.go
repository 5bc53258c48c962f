package clockutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/scheduler/pkg/clockutil"
)

func TestFakeClockSecondsRoundTrip(t *testing.T) {
	fc := clockutil.NewFakeClock(100)
	require.InDelta(t, 100, clockutil.Seconds(fc), 0.001)

	fc.SetTime(fc.Now().Add(30 * 1_000_000_000))
	require.InDelta(t, 130, clockutil.Seconds(fc), 0.001)
}
