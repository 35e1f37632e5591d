package job

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

type job struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       func(ctx context.Context) error
}

// Service runs registered functions on fixed intervals until the context is cancelled.
// A run never overlaps the next one: its context expires after one interval unless a shorter
// timeout is set.
type Service struct {
	jobs []job
	wg   *sync.WaitGroup
}

func NewService() *Service {
	return &Service{
		wg: &sync.WaitGroup{},
	}
}

func (s *Service) RegisterJob(name string, interval time.Duration, fn func(ctx context.Context) error) *Service {
	return s.TryRegisterJob(true, name, interval, fn)
}

// TryRegisterJob registers fn only when isEnabled is set and the interval is positive.
func (s *Service) TryRegisterJob(isEnabled bool, name string, interval time.Duration, fn func(ctx context.Context) error) *Service {
	if !isEnabled || interval <= 0 {
		slog.Info("job disabled", "job", name)
		return s
	}

	s.jobs = append(s.jobs, job{
		name:     name,
		interval: interval,
		timeout:  interval,
		fn:       fn,
	})

	return s
}

// WithTimeout bounds every run of the last registered job.
func (s *Service) WithTimeout(timeout time.Duration) *Service {
	if len(s.jobs) == 0 || timeout <= 0 {
		return s
	}

	last := &s.jobs[len(s.jobs)-1]
	last.timeout = min(timeout, last.interval)

	return s
}

func (s *Service) Start(ctx context.Context) {
	for _, v := range s.jobs {
		s.wg.Add(1)

		go s.startJob(ctx, v)
	}
}

func (s *Service) startJob(ctx context.Context, job job) {
	defer s.wg.Done()

	l := slog.Default().With("job", job.name)

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		started := time.Now()

		err := s.run(ctx, l, job)
		if err != nil {
			l.ErrorContext(ctx, fmt.Sprintf("Job %s failed after %s", job.name, time.Since(started)), "error", err)
		} else {
			l.DebugContext(ctx, "job done", "took", time.Since(started).String())
		}

		select {
		case <-ctx.Done():
			l.Debug("context done")
			return

		case <-ticker.C:
		}
	}
}

func (s *Service) run(ctx context.Context, l *slog.Logger, j job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.ErrorContext(ctx, "job panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return j.fn(ctx)
}

// Stop blocks until every job has observed the cancelled context.
func (s *Service) Stop() {
	s.wg.Wait()
}
