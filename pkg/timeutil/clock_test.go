// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package timeutil_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/pkg/timeutil"
)

func TestAdvanceFiresTimersInDeadlineOrder(t *testing.T) {
	require := require.New(t)
	clock := timeutil.NewFakeClock(time.Unix(0, 0))

	var order []string
	clock.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	clock.AfterFunc(time.Minute, func() { order = append(order, "a") })
	clock.AfterFunc(3*time.Minute, func() { order = append(order, "c") })

	clock.Advance(2 * time.Minute)
	require.Equal([]string{"a", "b"}, order)
	require.Equal(1, clock.PendingTimers())

	clock.Advance(time.Minute)
	require.Equal([]string{"a", "b", "c"}, order)
}

func TestStoppedTimerDoesNotFire(t *testing.T) {
	require := require.New(t)
	clock := timeutil.NewFakeClock(time.Unix(0, 0))

	fired := false
	timer := clock.AfterFunc(time.Minute, func() { fired = true })
	require.True(timer.Stop())
	require.False(timer.Stop())

	clock.Advance(time.Hour)
	require.False(fired)
	require.Zero(clock.PendingTimers())
}

func TestTimersScheduledFromCallbacksFireWithinWindow(t *testing.T) {
	require := require.New(t)
	clock := timeutil.NewFakeClock(time.Unix(0, 0))

	fired := 0
	clock.AfterFunc(time.Minute, func() {
		fired++
		clock.AfterFunc(time.Minute, func() { fired++ })
	})

	clock.Advance(2 * time.Minute)
	require.Equal(2, fired)
}

func TestNowAdvancesWithTimers(t *testing.T) {
	require := require.New(t)
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewFakeClock(start)

	var at time.Time
	clock.AfterFunc(time.Minute, func() { at = clock.Now() })

	clock.Advance(time.Hour)
	require.Equal(start.Add(time.Minute), at)
	require.Equal(start.Add(time.Hour), clock.Now())
}
