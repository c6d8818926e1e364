package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"voxelpipe/internal/config"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/runner"
)

// ErrLocked is returned when another scheduler holds the lock.
var ErrLocked = errors.New("another voxelpipe scheduler is already running")

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRunnerOptions passes options to every runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Scheduler) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

// Scheduler polls for requested jobs and runs them sequentially.
type Scheduler struct {
	cfg          *config.Config
	store        *jobs.Store
	base         *slog.Logger
	logger       *slog.Logger
	lock         *flock.Flock
	pollInterval time.Duration
	runnerOpts   []runner.Option

	mu     sync.Mutex
	active *runner.Runner
	cancel context.CancelFunc

	running atomic.Bool
}

// New constructs a scheduler. Nothing runs until Run is called.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("scheduler requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cfg:          cfg,
		store:        store,
		base:         logger,
		logger:       logging.NewComponentLogger(logger, "scheduler"),
		lock:         flock.New(cfg.LockPath()),
		pollInterval: time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run processes requested jobs until ctx is cancelled or Stop is called. A
// job still running at that point is terminated.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer s.running.Store(false)

	if err := s.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logging.WarnWithContext(s.logger, "failed to release scheduler lock", "scheduler_unlock_failed",
				logging.Error(err),
				logging.String("lock", s.cfg.LockPath()),
			)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	reset, err := s.store.ResetStarted(runCtx, "scheduler restarted while the job was running")
	if err != nil {
		return fmt.Errorf("reset interrupted jobs: %w", err)
	}
	if len(reset) > 0 {
		logging.WarnWithContext(s.logger, "marked interrupted jobs as failed", "scheduler_reset_jobs",
			logging.Int("count", len(reset)),
			logging.Any("jobs", reset),
			logging.String(logging.FieldImpact, "interrupted jobs must be requested again"),
		)
	}

	s.logger.Info("scheduler started", logging.String("lock", s.cfg.LockPath()), logging.Duration("poll_interval", s.pollInterval))
	for {
		if runCtx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		job, err := s.store.NextRequested(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				continue
			}
			logging.ErrorWithContext(s.logger, "failed to fetch next job", "scheduler_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
			s.wait(runCtx)
			continue
		}
		if job == nil {
			s.wait(runCtx)
			continue
		}
		s.runJob(runCtx, job)
	}
}

func (s *Scheduler) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.pollInterval):
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *jobs.Job) {
	r := runner.New(s.cfg, s.store, s.base, job, s.runnerOpts...)
	s.mu.Lock()
	s.active = r
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	s.logger.Info("running job", logging.String(logging.FieldJobID, job.UUID), logging.String("job", job.Name))
	out, err := r.Run(ctx)
	if err != nil {
		logging.ErrorWithContext(s.logger, "failed to record job outcome", "scheduler_record_failed",
			logging.Error(err),
			logging.String(logging.FieldJobID, job.UUID),
		)
	}
	s.logger.Info("job ended",
		logging.String(logging.FieldJobID, job.UUID),
		logging.String("status", string(out.Status)),
		logging.Duration("runtime", out.Runtime),
	)
}

// Stop ends Run. It returns immediately; Run returns once the active job,
// if any, has been terminated.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Kill terminates the job if it is the one currently running and reports
// whether it was.
func (s *Scheduler) Kill(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.Job().UUID != jobID {
		return false
	}
	s.active.Kill()
	return true
}

// Active returns the uuid of the running job.
func (s *Scheduler) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.Job().UUID, true
}
