package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTimes(t *testing.T) {
	times, err := parseClockTimes([]string{"18:30", "08:05", "12:00"})
	require.NoError(t, err)
	assert.Equal(t, []clockTime{{8, 5}, {12, 0}, {18, 30}}, times)

	_, err = parseClockTimes([]string{"25:00"})
	assert.Error(t, err)
	_, err = parseClockTimes([]string{"noon"})
	assert.Error(t, err)
}

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	times := []clockTime{{8, 0}, {20, 0}}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before first", time.Date(2026, 3, 1, 7, 59, 0, 0, loc), time.Date(2026, 3, 1, 8, 0, 0, 0, loc)},
		{"exactly at first is not a match", time.Date(2026, 3, 1, 8, 0, 0, 0, loc), time.Date(2026, 3, 1, 20, 0, 0, 0, loc)},
		{"between", time.Date(2026, 3, 1, 12, 0, 0, 0, loc), time.Date(2026, 3, 1, 20, 0, 0, 0, loc)},
		{"after last rolls to tomorrow", time.Date(2026, 3, 1, 21, 0, 0, 0, loc), time.Date(2026, 3, 2, 8, 0, 0, 0, loc)},
		{"month end", time.Date(2026, 2, 28, 22, 0, 0, 0, loc), time.Date(2026, 3, 1, 8, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextRun(tt.now, times)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	_, ok := nextRun(time.Now(), nil)
	assert.False(t, ok)
}

func TestScheduler_SetTimes(t *testing.T) {
	s, err := NewSchedulerService(nil, func(context.Context) {})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	_, ok := s.Next()
	assert.False(t, ok)

	require.NoError(t, s.SetTimes([]string{"10:15"}))
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)

	assert.Error(t, s.SetTimes([]string{"bad"}))
	next, _ = s.Next()
	assert.Equal(t, 10, next.Hour(), "invalid schedule keeps the previous one")
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, err := NewSchedulerService([]string{"03:00"}, func(context.Context) {
		t.Error("job must not run")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, s.SetTimes([]string{"04:00"}))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_FiresJob(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, err := NewSchedulerService([]string{"12:00"}, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	s.now = func() time.Time {
		return time.Date(2026, 3, 1, 11, 59, 59, int(980*time.Millisecond), time.UTC)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job not fired")
	}
}
