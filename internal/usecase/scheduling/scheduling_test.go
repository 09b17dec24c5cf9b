package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nop(context.Context) error { return nil }

func TestStartStopIdempotent(t *testing.T) {
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestIntervalJobFires(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{Name: "sweep", Schedule: "50ms", Run: func(context.Context) error {
		count.Add(1)
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestImmediateJobRunsOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{Name: "sweep", Schedule: "1h", Immediate: true, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate job did not run on start")
	}
}

func TestImmediateJobAddedWhileRunning(t *testing.T) {
	ran := make(chan struct{})
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Add(Job{Name: "late", Schedule: "1h", Immediate: true, Run: func(context.Context) error {
		close(ran)
		return nil
	}}))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job added after Start did not run immediately")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{Name: "prune", Schedule: "@daily", Immediate: true, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())
	assert.True(t, cancelled.Load(), "Stop returned before the job saw cancellation")
}

func TestJobTimeout(t *testing.T) {
	errc := make(chan error, 1)
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{
		Name: "sweep", Schedule: "1h", Immediate: true, Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			errc <- ctx.Err()
			return ctx.Err()
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{Name: "slow", Schedule: "10ms", Immediate: true, Run: func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Stats()[0].Skipped > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	close(release)
	require.NoError(t, s.Stop())
}

func TestStatsRecordFailures(t *testing.T) {
	done := make(chan struct{})
	s := NewScheduler(quietLogger())
	require.NoError(t, s.Add(Job{Name: "b-ok", Schedule: "1h", Run: nop}))
	require.NoError(t, s.Add(Job{Name: "a-fail", Schedule: "1h", Immediate: true, Run: func(context.Context) error {
		defer close(done)
		return errors.New("disk full")
	}}))

	require.NoError(t, s.Start(context.Background()))
	<-done
	require.NoError(t, s.Stop())

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a-fail", stats[0].Name)
	assert.Equal(t, 1, stats[0].Runs)
	assert.Equal(t, 1, stats[0].Failures)
	assert.Equal(t, "disk full", stats[0].LastError)
	assert.False(t, stats[0].LastRun.IsZero())
	assert.Equal(t, 0, stats[1].Runs)
}

func TestAddRejectsBadJobs(t *testing.T) {
	s := NewScheduler(quietLogger())
	assert.Error(t, s.Add(Job{Name: "no-run", Schedule: "1m"}))
	for _, sched := range []string{"", "not-a-schedule", "-5m"} {
		assert.Error(t, s.Add(Job{Name: "bad", Schedule: sched, Run: nop}), "schedule %q", sched)
	}
	require.NoError(t, s.Add(Job{Name: "dup", Schedule: "1m", Run: nop}))
	assert.Error(t, s.Add(Job{Name: "dup", Schedule: "1m", Run: nop}))
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"*/5 * * * *", true},
		{"@daily", true},
		{"@every 1m", true},
		{"30s", true},
		{Every(1500 * time.Millisecond), true},
		{"", false},
		{"0s", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := parseSchedule(tt.input)
			assert.Equal(t, tt.ok, err == nil, "err = %v", err)
		})
	}
}

func TestIntervalNext(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.Add(250*time.Millisecond), interval(250*time.Millisecond).Next(now))
}
