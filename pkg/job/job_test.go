package job_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samandr77/microservices/billing/pkg/job"
)

func TestService_Start(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var ok, failing, panicking, disabled atomic.Int32

	s := job.NewService().
		RegisterJob("ok", time.Millisecond*5, func(context.Context) error {
			ok.Add(1)
			return nil
		}).
		RegisterJob("failing", time.Millisecond*5, func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}).
		RegisterJob("panicking", time.Millisecond*5, func(context.Context) error {
			panicking.Add(1)
			panic("boom")
		}).
		TryRegisterJob(false, "disabled", time.Millisecond*5, func(context.Context) error {
			disabled.Add(1)
			return nil
		}).
		RegisterJob("zero interval", 0, func(context.Context) error {
			disabled.Add(1)
			return nil
		})

	s.Start(ctx)

	require.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2 && panicking.Load() >= 2
	}, time.Second, time.Millisecond*5)

	cancel()
	s.Stop()

	require.Zero(t, disabled.Load())
}

func TestService_RunDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var (
		runs     atomic.Int32
		deadline atomic.Int64
	)

	started := time.Now()

	s := job.NewService().
		RegisterJob("bounded", time.Hour, func(ctx context.Context) error {
			d, ok := ctx.Deadline()
			if ok {
				deadline.Store(int64(d.Sub(started)))
			}

			runs.Add(1)

			<-ctx.Done()

			return ctx.Err()
		}).
		WithTimeout(time.Millisecond * 20)

	s.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond*5)

	cancel()
	s.Stop()

	require.Positive(t, deadline.Load())
	require.Less(t, time.Duration(deadline.Load()), time.Minute)
}
