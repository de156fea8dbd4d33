package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"narrator/internal/eventbus"
	"narrator/internal/task/cronexpr"
	logx "narrator/pkg/logx"
)

const defaultMinDelay = time.Second

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	s := &Scheduler{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "scheduler")),
		bus:  bus,
		now:  time.Now,
		jobs: map[string]*job{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.loc = loadLocation(cfg.Timezone, s.log)
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the timezone schedules are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Register adds a job. Registering an existing name logs a warning and keeps
// the original job. Jobs registered after Start are armed immediately.
func (s *Scheduler) Register(name, spec string, h Handler, opts ...JobOption) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: job name is required")
	}
	if h == nil {
		return fmt.Errorf("scheduler: job %q: nil handler", name)
	}
	sched, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}

	j := &job{
		name:    name,
		spec:    sched.String(),
		sched:   sched,
		handler: h,
		timeout: s.cfg.DefaultTimeout,
	}
	for _, o := range opts {
		if o != nil {
			o(j)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		s.log.Warn("job already registered; ignoring", logx.String("job", name))
		return nil
	}
	s.jobs[name] = j
	s.log.Debug("job registered", logx.String("job", name), logx.String("spec", j.spec))
	if s.started {
		s.armLocked(j)
	}
	return nil
}

// Start arms a timer for every registered job. It is a no-op when already
// started. ctx is passed to handlers and bounds their lifetime.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx
	for _, j := range s.jobs {
		if j.state != StateRunning {
			s.armLocked(j)
		}
	}
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)), logx.String("tz", s.loc.String()))
}

// Stop cancels every pending timer. In-flight handlers keep running and do
// not re-arm when they finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	for _, j := range s.jobs {
		s.disarmLocked(j)
	}
	s.log.Info("scheduler stopped")
}

// Wait blocks until every in-flight handler returns or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers name immediately. The returned channel receives the
// handler's result once and is then closed.
func (s *Scheduler) RunNow(name string) (<-chan error, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if j.state == StateRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}
	s.beginLocked(j)
	ctx := s.runContextLocked()
	s.mu.Unlock()

	done := make(chan error, 1)
	go s.execute(ctx, j, true, done)
	return done, nil
}

// Status returns a snapshot of every job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:         j.name,
			Spec:         j.spec,
			State:        j.state,
			IsRunning:    j.state == StateRunning,
			ErrorCount:   j.errorCount,
			LastError:    j.lastErr,
			LastDuration: j.lastDur,
		}
		if !j.lastRunAt.IsZero() {
			t := j.lastRunAt
			st.LastRunAt = &t
		}
		if !j.nextRunAt.IsZero() {
			t := j.nextRunAt
			st.NextRunAt = &t
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Preview returns the next n fire times of name, evaluated from now.
func (s *Scheduler) Preview(name string, n int) ([]time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return cronexpr.Preview(j.sched, s.now().In(s.loc), n), nil
}

func (s *Scheduler) armLocked(j *job) {
	s.disarmLocked(j)
	now := s.now().In(s.loc)
	next := j.sched.Next(now)
	if next.IsZero() {
		next = now.Add(cronexpr.Fallback)
	}
	delay := next.Sub(now)
	if delay < s.cfg.MinDelay {
		delay = s.cfg.MinDelay
		next = now.Add(delay)
	}
	gen := j.gen
	j.state = StateArmed
	j.nextRunAt = next
	j.timer = time.AfterFunc(delay, func() { s.fire(j, gen) })
	s.log.Debug("job armed", logx.String("job", j.name), logx.Time("next", next), logx.Duration("delay", delay))
}

// disarmLocked stops a pending timer and invalidates any callback that
// already fired but has not taken the lock yet.
func (s *Scheduler) disarmLocked(j *job) {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.gen++
	j.nextRunAt = time.Time{}
	if j.state == StateArmed {
		j.state = StateIdle
	}
}

func (s *Scheduler) beginLocked(j *job) {
	s.disarmLocked(j)
	j.state = StateRunning
	j.lastRunAt = s.now()
	s.inflight.Add(1)
}

func (s *Scheduler) runContextLocked() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) fire(j *job, gen uint64) {
	s.mu.Lock()
	if !s.started || j.gen != gen {
		s.mu.Unlock()
		return
	}
	if j.state == StateRunning {
		s.mu.Unlock()
		s.log.Debug("job still running; tick skipped", logx.String("job", j.name))
		return
	}
	s.beginLocked(j)
	ctx := s.runContextLocked()
	s.mu.Unlock()

	s.execute(ctx, j, false, nil)
}

func (s *Scheduler) execute(ctx context.Context, j *job, manual bool, done chan<- error) {
	defer s.inflight.Done()

	runID := uuid.NewString()
	started := time.Now()
	log := s.log.With(logx.String("job", j.name), logx.String("run_id", runID))
	log.Info("job started", logx.Bool("manual", manual))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Data: JobEvent{RunID: runID, Name: j.name, Manual: manual, Started: started}})

	err := s.call(ctx, j, log)
	dur := time.Since(started)

	s.mu.Lock()
	j.lastDur = dur
	if err != nil {
		j.errorCount++
		j.lastErr = err.Error()
	} else {
		j.errorCount = 0
		j.lastErr = ""
	}
	errorCount := j.errorCount
	j.state = StateIdle
	if s.started {
		s.armLocked(j)
	}
	s.mu.Unlock()

	ev := JobEvent{RunID: runID, Name: j.name, Manual: manual, Started: started, Duration: dur, ErrorCount: errorCount}
	if err != nil {
		ev.Error = err.Error()
		log.Warn("job failed", logx.Int("error_count", errorCount), logx.Duration("took", dur), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: ev})
	} else {
		log.Info("job finished", logx.Duration("took", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: ev})
	}

	if done != nil {
		done <- err
		close(done)
	}
}

func (s *Scheduler) call(ctx context.Context, j *job, log logx.Logger) (err error) {
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("job.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return j.handler(runCtx)
}
