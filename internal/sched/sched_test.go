package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopJob(context.Context) error { return nil }

func TestStartRegistersBothJobs(t *testing.T) {
	s := New(Options{
		Location:   time.UTC,
		DailySpec:  "0 9 * * *",
		Daily:      noopJob,
		HourlySpec: "0 10-23 * * *",
		Hourly:     noopJob,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 2)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(Options{
		DailySpec:  "not a cron spec",
		Daily:      noopJob,
		HourlySpec: "0 10-23 * * *",
		Hourly:     noopJob,
	})
	assert.Error(t, s.Start(context.Background()))
}

func TestStartRequiresJobs(t *testing.T) {
	s := New(Options{DailySpec: "0 9 * * *", HourlySpec: "0 10-23 * * *", Daily: noopJob})
	assert.Error(t, s.Start(context.Background()))
}

func TestWrapRunsJobAndSwallowsFailure(t *testing.T) {
	s := New(Options{})

	var gotCtx context.Context
	run := s.wrap(context.Background(), "daily", func(ctx context.Context) error {
		gotCtx = ctx
		return errors.New("job failed")
	})
	run()

	require.NotNil(t, gotCtx, "job never ran")
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	New(Options{}).Stop()
}
