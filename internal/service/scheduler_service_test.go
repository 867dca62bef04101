package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("03:30")
	require.NoError(t, err)
	assert.Equal(t, "0 30 3 * * *", spec)

	for _, bad := range []string{"", "3", "24:00", "12:60", "aa:10", "10:00:00"} {
		_, err := buildDailySpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduler_IntervalJobRunsAndStopCancels(t *testing.T) {
	s := NewSchedulerService(time.UTC, nil)

	_, err := s.ScheduleInterval("bad", 0, func(context.Context) {})
	assert.Error(t, err)
	_, err = s.ScheduleDaily("bad", "25:00", func(context.Context) {})
	assert.Error(t, err)

	ran := make(chan struct{}, 1)
	var jobCtx context.Context
	_, err = s.ScheduleInterval("tick", time.Second, func(ctx context.Context) {
		jobCtx = ctx
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("interval job never ran")
	}
	s.Stop()

	require.NotNil(t, jobCtx)
	assert.ErrorIs(t, jobCtx.Err(), context.Canceled)
}
