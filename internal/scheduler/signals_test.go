package scheduler

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStartClose_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestScheduler(WithTick(5 * time.Millisecond))
	st, job := counterJob("tick")
	require.NoError(t, s.Register(10*time.Millisecond, job, ""))

	errCh := startAsync(t, s)
	require.Eventually(t, func() bool { return st.count.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)
}

func TestHandleSignals_ClosesOnSIGTERM(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var hooked atomic.Bool
	s := newTestScheduler(WithCloseHook(func() { hooked.Store(true) }))
	errCh := startAsync(t, s)

	stop := s.HandleSignals(context.Background())
	defer stop()
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on SIGTERM")
	}
	assert.True(t, hooked.Load())
}

func TestHandleSignals_SignalBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var hooked atomic.Bool
	s := newTestScheduler(WithCloseHook(func() { hooked.Store(true) }))
	stop := s.HandleSignals(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	require.Eventually(t, hooked.Load, 5*time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept running after SIGTERM received before it")
	}

	// The listener keeps serving later signals.
	errCh2 := startAsync(t, s)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	select {
	case err := <-errCh2:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second SIGTERM did not stop the scheduler")
	}
}

func TestHandleSignals_StopReleasesListener(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestScheduler()
	stop := s.HandleSignals(context.Background())
	stop()
	stop()
}
