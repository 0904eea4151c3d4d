package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	name  string
	count atomic.Int64
}

func (s *testState) JobName() string { return s.name }

func counterJob(name string) (*testState, Job) {
	st := &testState{name: name}
	return st, NewJob(st, func(context.Context) error {
		st.count.Add(1)
		return nil
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(opts ...Option) *Scheduler {
	return New(append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// startAsync runs Start in the background and waits until the loop is up.
func startAsync(t *testing.T, s *Scheduler) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)
	return errCh
}

func TestRegister_InvalidInterval(t *testing.T) {
	s := newTestScheduler()
	_, job := counterJob("short")

	err := s.Register(2*DefaultTick-time.Millisecond, job, "")
	assert.ErrorIs(t, err, ErrInvalidInterval)

	err = s.Register(2*DefaultTick, job, "")
	assert.NoError(t, err)
}

func TestRegister_DuplicateJob(t *testing.T) {
	s := newTestScheduler()
	_, a := counterJob("same")
	_, b := counterJob("same")
	_, c := counterJob("other")

	require.NoError(t, s.Register(time.Second, a, ""))
	assert.ErrorIs(t, s.Register(time.Second, b, ""), ErrDuplicateJob)

	// An explicit name takes precedence over the state's name.
	assert.ErrorIs(t, s.Register(time.Second, c, "same"), ErrDuplicateJob)
	assert.NoError(t, s.Register(time.Second, b, "same-2"))
}

func TestDeregister(t *testing.T) {
	s := newTestScheduler()
	st, job := counterJob("post")
	require.NoError(t, s.Register(time.Second, job, ""))

	got, err := s.Deregister("post")
	require.NoError(t, err)
	assert.Same(t, st, got)
	assert.Empty(t, s.Stats())

	_, err = s.Deregister("post")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_CountScenario(t *testing.T) {
	s := newTestScheduler()
	st, job := counterJob("count1")
	require.NoError(t, s.Register(500*time.Millisecond, job, ""))

	errCh := startAsync(t, s)
	time.Sleep(1500 * time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, st.count.Load(), int64(2))
}

func TestScheduler_Liveness(t *testing.T) {
	tick := 20 * time.Millisecond
	i1, i2 := 100*time.Millisecond, 200*time.Millisecond
	window := 3 * i2

	s := newTestScheduler(WithTick(tick))
	fast, fastJob := counterJob("fast")
	slow, slowJob := counterJob("slow")
	require.NoError(t, s.Register(i1, fastJob, ""))
	require.NoError(t, s.Register(i2, slowJob, ""))

	errCh := startAsync(t, s)
	time.Sleep(window + 50*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, fast.count.Load(), int64(window/i1)-1)
	assert.GreaterOrEqual(t, slow.count.Load(), int64(window/i2)-1)
}

func TestScheduler_NonOverlap(t *testing.T) {
	s := newTestScheduler(WithTick(5 * time.Millisecond))

	var active, maxActive, runs atomic.Int64
	job := NewJob(&testState{name: "slow"}, func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	})
	require.NoError(t, s.Register(10*time.Millisecond, job, ""))

	errCh := startAsync(t, s)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)

	assert.Equal(t, int64(1), maxActive.Load())
}

func TestScheduler_FailuresAreCountedAndRetried(t *testing.T) {
	s := newTestScheduler(WithTick(5 * time.Millisecond))
	rec := &fakeRecorder{}
	s.recorder = rec

	boom := errors.New("boom")
	var calls atomic.Int64
	failing := NewJob(&testState{name: "failing"}, func(context.Context) error {
		calls.Add(1)
		return boom
	})
	panicking := NewJob(&testState{name: "panicking"}, func(context.Context) error {
		panic("kaboom")
	})
	healthy, healthyJob := counterJob("healthy")

	require.NoError(t, s.Register(10*time.Millisecond, failing, ""))
	require.NoError(t, s.Register(10*time.Millisecond, panicking, ""))
	require.NoError(t, s.Register(10*time.Millisecond, healthyJob, ""))

	errCh := startAsync(t, s)
	require.Eventually(t, func() bool { return calls.Load() >= 3 && healthy.count.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)

	stats := s.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "failing", stats[0].Name)
	assert.Equal(t, stats[0].Runs, stats[0].Failures)
	assert.Equal(t, "boom", stats[0].LastError)
	assert.Contains(t, stats[1].LastError, "kaboom")
	assert.Zero(t, stats[2].Failures)
	assert.Positive(t, rec.failures("failing"))
}

func TestScheduler_RegisterWhileRunning(t *testing.T) {
	s := newTestScheduler(WithTick(10 * time.Millisecond))
	errCh := startAsync(t, s)

	st, job := counterJob("late")
	require.NoError(t, s.Register(time.Hour, job, ""))

	require.Eventually(t, func() bool { return st.count.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)
}

func TestScheduler_StopMidTickSkipsRemainingJobs(t *testing.T) {
	s := newTestScheduler(WithTick(10 * time.Millisecond))

	closer := NewJob(&testState{name: "closer"}, func(context.Context) error {
		go func() { _ = s.Close(context.Background()) }()
		assert.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.stopRequested
		}, time.Second, time.Millisecond)
		return nil
	})
	after, afterJob := counterJob("after")
	require.NoError(t, s.Register(20*time.Millisecond, closer, ""))
	require.NoError(t, s.Register(20*time.Millisecond, afterJob, ""))

	errCh := startAsync(t, s)
	require.NoError(t, <-errCh)
	assert.Zero(t, after.count.Load())
}

func TestStart_AlreadyRunning(t *testing.T) {
	s := newTestScheduler()
	errCh := startAsync(t, s)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)
}

func TestStart_ContextCancel(t *testing.T) {
	s := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, s.Running())
}

func TestClose_NotRunning(t *testing.T) {
	s := newTestScheduler()
	assert.NoError(t, s.Close(context.Background()))
}

func TestClose_BeforeStartStopsNextStart(t *testing.T) {
	var hooks atomic.Int64
	s := newTestScheduler(WithTick(5*time.Millisecond), WithCloseHook(func() { hooks.Add(1) }))
	st, job := counterJob("tick")
	require.NoError(t, s.Register(10*time.Millisecond, job, ""))

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, int64(1), hooks.Load())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start ignored a close requested before it")
	}
	assert.Zero(t, st.count.Load())
	assert.False(t, s.Running())

	// The request is consumed: a later Start runs normally.
	errCh2 := startAsync(t, s)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh2)
	assert.Equal(t, int64(1), hooks.Load())
}

func TestClose_RunsHooksOnce(t *testing.T) {
	var hooks atomic.Int64
	s := newTestScheduler(WithCloseHook(func() { hooks.Add(1) }))
	errCh := startAsync(t, s)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, <-errCh)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, int64(1), hooks.Load())
}

// stuckJob blocks until its context is cancelled.
func stuckJob(started chan<- struct{}) Job {
	var once sync.Once
	return NewJob(&testState{name: "stuck"}, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestClose_TimeoutReturnsError(t *testing.T) {
	s := newTestScheduler(
		WithTick(5*time.Millisecond),
		WithForceTimeout(50*time.Millisecond),
		WithPolicy(PolicyReturnError),
	)
	started := make(chan struct{})
	require.NoError(t, s.Register(10*time.Millisecond, stuckJob(started), ""))

	errCh := startAsync(t, s)
	<-started

	err := s.Close(context.Background())
	assert.ErrorIs(t, err, ErrCloseTimeout)

	// The stuck job sees its context cancelled and the loop winds down.
	require.NoError(t, <-errCh)
}

func TestClose_TimeoutExits(t *testing.T) {
	var code atomic.Int64
	code.Store(-1)
	s := newTestScheduler(
		WithTick(5*time.Millisecond),
		WithForceTimeout(50*time.Millisecond),
		WithExit(func(c int) { code.Store(int64(c)) }),
	)
	started := make(chan struct{})
	require.NoError(t, s.Register(10*time.Millisecond, stuckJob(started), ""))

	errCh := startAsync(t, s)
	<-started

	_ = s.Close(context.Background())
	assert.Equal(t, int64(1), code.Load())
	<-errCh
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("error")
	require.NoError(t, err)
	assert.Equal(t, PolicyReturnError, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyExit, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}

type fakeRecorder struct {
	mu   sync.Mutex
	errs map[string]int
}

func (r *fakeRecorder) RecordJob(name string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs == nil {
		r.errs = make(map[string]int)
	}
	if err != nil {
		r.errs[name]++
	}
}

func (r *fakeRecorder) failures(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}
