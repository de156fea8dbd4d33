package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"narrator/internal/eventbus"
	"narrator/internal/task/cronexpr"
	logx "narrator/pkg/logx"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job already running")
)

// Handler is the work a job performs. It must tolerate being skipped while a
// previous run is still in flight.
type Handler func(ctx context.Context) error

// Config controls the scheduler.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Chicago"; empty means Local

	// MinDelay is the smallest delay used when arming a timer (default 1s).
	MinDelay time.Duration
	// DefaultTimeout applies to jobs registered without WithTimeout. 0 disables it.
	DefaultTimeout time.Duration
}

type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// JobOption customizes a registered job.
type JobOption func(*job)

// WithTimeout bounds a single run of the job.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) { j.timeout = d }
}

type job struct {
	name    string
	spec    string
	sched   cronexpr.Schedule
	handler Handler
	timeout time.Duration

	// Guarded by Scheduler.mu.
	state      State
	timer      *time.Timer
	gen        uint64 // bumped whenever pending timer callbacks must be ignored
	lastRunAt  time.Time
	nextRunAt  time.Time
	errorCount int
	lastErr    string
	lastDur    time.Duration
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	State        State         `json:"state"`
	IsRunning    bool          `json:"is_running"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time    `json:"next_run_at,omitempty"`
	ErrorCount   int           `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
}

// JobEvent is published on the event bus for job lifecycle events.
type JobEvent struct {
	RunID      string        `json:"run_id"`
	Name       string        `json:"name"`
	Manual     bool          `json:"manual"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	ErrorCount int           `json:"error_count"`
	Error      string        `json:"error,omitempty"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now for next-run computation.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type Scheduler struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
	loc *time.Location

	jobs    map[string]*job
	started bool
	ctx     context.Context

	// inflight tracks running handlers so shutdown can drain them.
	inflight sync.WaitGroup
}
