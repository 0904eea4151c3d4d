// Package scheduler runs named recurring jobs on one shared tick.
//
// Jobs due on a tick run one after another in registration order. A job is
// never invoked while a previous invocation of it is still running, and a
// failing job is logged and rescheduled without affecting the others.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultTick         = 200 * time.Millisecond
	DefaultForceTimeout = 10 * time.Second
)

// State is the typed, job-owned state shared across every invocation of a job.
type State interface {
	JobName() string
}

// Job is one unit of recurring work together with its state.
type Job interface {
	State() State
	Run(ctx context.Context) error
}

// NewJob adapts a function into a Job.
func NewJob(state State, run func(ctx context.Context) error) Job {
	return &funcJob{state: state, run: run}
}

type funcJob struct {
	state State
	run   func(ctx context.Context) error
}

func (j *funcJob) State() State                  { return j.state }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

// ShutdownPolicy decides what Close does when the loop does not stop in time.
type ShutdownPolicy int

const (
	// PolicyExit terminates the process with exit code 1.
	PolicyExit ShutdownPolicy = iota
	// PolicyReturnError cancels the running job's context and returns ErrCloseTimeout.
	PolicyReturnError
)

// ParsePolicy maps "exit" and "error" to a ShutdownPolicy.
func ParsePolicy(s string) (ShutdownPolicy, error) {
	switch s {
	case "", "exit":
		return PolicyExit, nil
	case "error":
		return PolicyReturnError, nil
	default:
		return PolicyExit, fmt.Errorf("unknown shutdown policy %q", s)
	}
}

// Recorder receives one observation per job invocation.
type Recorder interface {
	RecordJob(name string, d time.Duration, err error)
}

// JobStats is a snapshot of one registered job.
type JobStats struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	NextRunAt time.Time `json:"next_run_at"`
	Running   bool      `json:"running"`
}

type entry struct {
	name      string
	job       Job
	interval  time.Duration
	nextRunAt time.Time
	running   bool
	runs      int64
	failures  int64
	lastErr   error
}

// Scheduler owns the job registry and the tick loop.
type Scheduler struct {
	tick         time.Duration
	forceTimeout time.Duration
	policy       ShutdownPolicy
	exit         func(code int)
	now          func() time.Time
	logger       *slog.Logger
	recorder     Recorder
	closeHooks   []func()
	hooksOnce    sync.Once

	mu            sync.Mutex
	jobs          map[string]*entry
	order         []string
	loopRunning   bool
	stopRequested bool
	closePending  bool
	stop          chan struct{}
	done          chan struct{}
	cancelRun     context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }
func WithForceTimeout(d time.Duration) Option { return func(s *Scheduler) { s.forceTimeout = d } }
func WithPolicy(p ShutdownPolicy) Option { return func(s *Scheduler) { s.policy = p } }
func WithExit(exit func(code int)) Option { return func(s *Scheduler) { s.exit = exit } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }
func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithCloseHook registers fn to run once Close is requested, before waiting
// for the loop. Collaborators use it to start refusing new work.
func WithCloseHook(fn func()) Option {
	return func(s *Scheduler) { s.closeHooks = append(s.closeHooks, fn) }
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tick:         DefaultTick,
		forceTimeout: DefaultForceTimeout,
		policy:       PolicyExit,
		exit:         os.Exit,
		now:          time.Now,
		logger:       slog.Default(),
		jobs:         make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. The job's key is name when non-empty, otherwise the
// name reported by its state. A job registered while the loop runs is due on
// the next tick.
func (s *Scheduler) Register(interval time.Duration, job Job, name string) error {
	if interval < 2*s.tick {
		return fmt.Errorf("%w: %s < 2*%s", ErrInvalidInterval, interval, s.tick)
	}
	if name == "" {
		name = job.State().JobName()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	s.jobs[name] = &entry{name: name, job: job, interval: interval}
	s.order = append(s.order, name)

	s.logger.Info("job registered", "job", name, "interval", interval)
	return nil
}

// Deregister removes a job and returns its state. An invocation already in
// progress is allowed to finish.
func (s *Scheduler) Deregister(name string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	delete(s.jobs, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })

	s.logger.Info("job deregistered", "job", name, "runs", e.runs, "failures", e.failures)
	return e.job.State(), nil
}

// Start runs the tick loop and blocks until it stops, either through Close
// (returns nil) or ctx cancellation (returns ctx.Err()). Every job registered
// before Start first runs one interval after Start. If Close was called while
// the loop was not running, Start returns nil without running anything.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.loopRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.closePending {
		s.closePending = false
		s.mu.Unlock()
		s.logger.Info("scheduler closed before start")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.loopRunning = true
	s.stopRequested = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.cancelRun = cancel
	stop, done := s.stop, s.done

	start := s.now()
	for _, e := range s.jobs {
		e.nextRunAt = start.Add(e.interval)
	}
	jobCount := len(s.jobs)
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.loopRunning = false
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "jobs", jobCount, "tick", s.tick)

	for {
		select {
		case <-stop:
			s.logger.Info("scheduler stopped")
			return nil
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled", "error", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			s.runDue(runCtx, stop)
		}
	}
}

// runDue invokes every due, idle job in registration order. A stop request
// seen between jobs ends the pass.
func (s *Scheduler) runDue(ctx context.Context, stop <-chan struct{}) {
	s.mu.Lock()
	names := slices.Clone(s.order)
	s.mu.Unlock()

	for _, name := range names {
		select {
		case <-stop:
			return
		default:
		}
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		e, ok := s.jobs[name]
		if !ok || e.running || s.now().Before(e.nextRunAt) {
			s.mu.Unlock()
			continue
		}
		e.running = true
		s.mu.Unlock()

		started := time.Now()
		err := invoke(ctx, e.job)
		elapsed := time.Since(started)

		s.mu.Lock()
		e.running = false
		e.runs++
		e.lastErr = err
		if err != nil {
			e.failures++
		}
		e.nextRunAt = s.now().Add(e.interval)
		failures := e.failures
		s.mu.Unlock()

		if s.recorder != nil {
			s.recorder.RecordJob(name, elapsed, err)
		}
		if err != nil {
			s.logger.Error("job failed", "job", name, "error", err, "failures", failures, "duration", elapsed)
		} else {
			s.logger.Debug("job finished", "job", name, "duration", elapsed)
		}
	}
}

func invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Close requests shutdown and waits for the loop to stop. When the loop is
// not running it returns nil at once and the request is kept, so the next
// Start returns immediately. If the loop does not stop within the force
// timeout, the shutdown policy applies. Close hooks run on the first call.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.loopRunning {
		s.closePending = true
		s.mu.Unlock()
		s.runCloseHooks()
		return nil
	}
	first := !s.stopRequested
	if first {
		s.stopRequested = true
		close(s.stop)
	}
	done, cancel := s.done, s.cancelRun
	s.mu.Unlock()

	if first {
		s.logger.Info("scheduler closing")
		s.runCloseHooks()
	}

	timer := time.NewTimer(s.forceTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	s.logger.Error("scheduler did not stop in time", "timeout", s.forceTimeout)
	if s.policy == PolicyExit {
		s.exit(1)
	}
	cancel()
	return ErrCloseTimeout
}

func (s *Scheduler) runCloseHooks() {
	s.hooksOnce.Do(func() {
		for _, hook := range s.closeHooks {
			hook()
		}
	})
}

// HandleSignals closes the scheduler on every SIGINT or SIGTERM until the
// returned function is called or ctx is done. A signal that arrives before
// Start makes Start return immediately.
func (s *Scheduler) HandleSignals(ctx context.Context) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigCh:
				s.logger.Info("received signal, shutting down", "signal", sig.String())
				if err := s.Close(context.Background()); err != nil {
					s.logger.Error("close scheduler", "error", err)
				}
			case <-quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sync.OnceFunc(func() {
		signal.Stop(sigCh)
		close(quit)
	})
}

// Stats returns a snapshot of every registered job in registration order.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.order))
	for _, name := range s.order {
		e := s.jobs[name]
		st := JobStats{
			Name:      name,
			Interval:  e.interval.String(),
			Runs:      e.runs,
			Failures:  e.failures,
			NextRunAt: e.nextRunAt,
			Running:   e.running,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopRunning
}
