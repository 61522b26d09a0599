package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"go.uber.org/zap"
)

type clockTime struct {
	hour, minute int
}

func parseClockTimes(times []string) ([]clockTime, error) {
	out := make([]clockTime, 0, len(times))
	for _, t := range times {
		parsed, err := time.Parse(util.ClockFormat, t)
		if err != nil {
			return nil, fmt.Errorf("schedule time %q: %w", t, err)
		}
		out = append(out, clockTime{hour: parsed.Hour(), minute: parsed.Minute()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].hour != out[j].hour {
			return out[i].hour < out[j].hour
		}
		return out[i].minute < out[j].minute
	})
	return out, nil
}

// nextRun is the earliest configured time of day strictly after now, in
// now's location.
func nextRun(now time.Time, times []clockTime) (time.Time, bool) {
	var best time.Time
	for _, ct := range times {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), ct.hour, ct.minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = time.Date(now.Year(), now.Month(), now.Day()+1, ct.hour, ct.minute, 0, 0, now.Location())
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best, !best.IsZero()
}

// SchedulerService 每天在配置的时间点触发一次任务
type SchedulerService struct {
	job func(ctx context.Context)
	now func() time.Time

	mu     sync.Mutex
	times  []clockTime
	reload chan struct{}
}

func NewSchedulerService(times []string, job func(ctx context.Context)) (*SchedulerService, error) {
	parsed, err := parseClockTimes(times)
	if err != nil {
		return nil, err
	}
	return &SchedulerService{
		job:    job,
		now:    time.Now,
		times:  parsed,
		reload: make(chan struct{}, 1),
	}, nil
}

// SetTimes replaces the schedule; the running loop re-arms its timer.
func (s *SchedulerService) SetTimes(times []string) error {
	parsed, err := parseClockTimes(times)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.times = parsed
	s.mu.Unlock()

	select {
	case s.reload <- struct{}{}:
	default:
	}
	return nil
}

func (s *SchedulerService) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextRun(s.now(), s.times)
}

func (s *SchedulerService) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Run blocks until ctx is done. Jobs run on this goroutine, so a slow batch
// delays the next one rather than overlapping it.
func (s *SchedulerService) Run(ctx context.Context) {
	for {
		var fire <-chan time.Time
		var timer *time.Timer

		if next, ok := s.Next(); ok {
			timer = time.NewTimer(next.Sub(s.clock()))
			fire = timer.C
			logger.Log.Info("Next scheduled batch", zap.Time("at", next))
		} else {
			logger.Log.Info("No schedule configured, waiting for reload")
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.reload:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			s.job(ctx)
		}
	}
}
