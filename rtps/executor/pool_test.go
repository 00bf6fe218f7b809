package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/executor"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	tu.SetT(t)
	p := tu.NoErr(executor.NewPool(2, 4))
	require.ErrorIs(t, p.Submit(1, func() {}), executor.ErrPoolNotStarted)

	require.NoError(t, p.Start(context.Background()))
	require.ErrorIs(t, p.Start(context.Background()), executor.ErrPoolAlreadyStarted)

	require.NoError(t, p.Stop(time.Second))
	require.ErrorIs(t, p.Submit(1, func() {}), executor.ErrPoolStopped)
	require.NoError(t, p.Stop(time.Second))
}

func TestSameKeyKeepsOrder(t *testing.T) {
	tu.SetT(t)
	p := tu.NoErr(executor.NewPool(4, 1000))
	require.NoError(t, p.Start(context.Background()))

	var mu sync.Mutex
	got := map[uint64][]int{}
	for i := 0; i < 200; i++ {
		for _, key := range []uint64{executor.KeyOf([]byte("a")), executor.KeyOf([]byte("b"))} {
			require.NoError(t, p.Submit(key, func() {
				mu.Lock()
				defer mu.Unlock()
				got[key] = append(got[key], i)
			}))
		}
	}
	require.NoError(t, p.Stop(5*time.Second))

	require.Len(t, got, 2)
	for _, seq := range got {
		require.Len(t, seq, 200)
		for i, v := range seq {
			require.Equal(t, i, v)
		}
	}
	require.Equal(t, int64(400), p.Stats().Processed)
}

func TestQueueFullAndWait(t *testing.T) {
	tu.SetT(t)
	p := tu.NoErr(executor.NewPool(1, 1))
	require.NoError(t, p.Start(context.Background()))

	block := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, p.Submit(0, func() { close(running); <-block }))
	<-running
	require.NoError(t, p.Submit(0, func() {}))
	require.ErrorIs(t, p.Submit(0, func() {}), executor.ErrQueueFull)
	require.Equal(t, int64(1), p.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.SubmitWait(ctx, 0, func() {}), context.DeadlineExceeded)

	close(block)
	require.NoError(t, p.SubmitWait(context.Background(), 0, func() {}))
	require.NoError(t, p.Stop(time.Second))
}

func TestStopTimeout(t *testing.T) {
	tu.SetT(t)
	p := tu.NoErr(executor.NewPool(1, 1))
	require.NoError(t, p.Start(context.Background()))

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, p.Submit(0, func() { <-block }))
	require.ErrorIs(t, p.Stop(10*time.Millisecond), executor.ErrStopTimeout)
}

func TestPanicIsContained(t *testing.T) {
	tu.SetT(t)
	reg := prometheus.NewRegistry()
	p := tu.NoErr(executor.NewPool(1, 4, executor.WithMetrics(reg, "test_executor")))
	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})
	require.NoError(t, p.Submit(0, func() { panic("boom") }))
	require.NoError(t, p.Submit(0, func() { close(done) }))
	<-done
	require.NoError(t, p.Stop(time.Second))
	require.Equal(t, int64(1), p.Stats().Panicked)

	_, err := executor.NewPool(1, 1, executor.WithMetrics(reg, "test_executor"))
	require.Error(t, err)
}
