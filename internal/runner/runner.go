package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"voxelpipe/internal/config"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
)

var commandContext = exec.CommandContext

const waitDelay = 10 * time.Second

// KilledExitCode is the exit code of a run-job process that stopped on SIGTERM.
const KilledExitCode = 247

// killedCodes are exit codes that mean the child was terminated on purpose.
var killedCodes = map[int]bool{-int(unix.SIGKILL): true, -int(unix.SIGTERM): true, KilledExitCode: true}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutable overrides the binary started for each job.
func WithExecutable(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.executable = path
		}
	}
}

// WithPollInterval sets how often the kill flag is checked.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// Runner runs a single job subprocess.
type Runner struct {
	cfg          *config.Config
	store        *jobs.Store
	logger       *slog.Logger
	executable   string
	pollInterval time.Duration

	job  *jobs.Job
	kill atomic.Bool
}

// New returns a runner for job.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, job *jobs.Job, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:          cfg,
		store:        store,
		executable:   os.Args[0],
		pollInterval: time.Second,
		job:          job,
	}
	if exe, err := os.Executable(); err == nil {
		r.executable = exe
	}
	if cfg != nil && cfg.Scheduler.WorkerPollSeconds > 0 {
		r.pollInterval = time.Duration(cfg.Scheduler.WorkerPollSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(logger, "runner").With(logging.String(logging.FieldJobID, job.UUID))
	return r
}

// Job returns the job this runner executes.
func (r *Runner) Job() *jobs.Job { return r.job }

// Kill asks the runner to terminate the child. It is observed on the next
// poll of the run loop.
func (r *Runner) Kill() {
	r.kill.Store(true)
}

// Outcome describes a finished run.
type Outcome struct {
	Status     jobs.Status
	ReturnCode int
	Stdout     string
	Stderr     string
	Runtime    time.Duration
}

// Run starts the child, waits for it and records the terminal status and
// event. Cancelling ctx terminates the child like Kill. Run returns an error
// only when the outcome could not be recorded.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	var stdout, stderr syncBuffer
	cmd := commandContext(context.Background(), r.executable, "run-job", r.job.UUID)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if r.cfg != nil {
		cmd.Env = append(cmd.Env, r.cfg.Environ()...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Worker processes may inherit the output pipes and outlive the child.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	r.logger.Info("calling subprocess", logging.String("executable", r.executable), logging.String("job", r.job.Name))
	if err := cmd.Start(); err != nil {
		return r.recordStartFailure(err, time.Since(start))
	}
	pid := cmd.Process.Pid
	if err := r.store.SetStatus(ctx, r.job.UUID, jobs.StatusStarted, pid); err != nil {
		logging.WarnWithContext(r.logger, "failed to mark job started", "runner_status_failed", logging.Error(err))
	}
	if _, err := r.store.AppendEvent(ctx, r.job.UUID, jobs.EventStarted, "", nil); err != nil {
		logging.WarnWithContext(r.logger, "failed to record started event", "runner_event_failed", logging.Error(err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	terminated := false
	cancelled := ctx.Done()
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-cancelled:
			// Seen once; afterwards wait on the child and the ticker only.
			cancelled = nil
			r.kill.Store(true)
		case <-ticker.C:
		}
		if r.kill.Load() && !terminated {
			terminated = true
			r.terminate(pid)
		}
	}

	out := Outcome{
		ReturnCode: exitCode(cmd.ProcessState, waitErr),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Runtime:    time.Since(start),
	}
	switch {
	case terminated || killedCodes[out.ReturnCode]:
		out.Status = jobs.StatusKilled
	case out.ReturnCode == 0:
		out.Status = jobs.StatusFinished
	default:
		out.Status = jobs.StatusFailed
	}
	return out, r.record(out)
}

// terminate sends SIGTERM to the child's process group so its worker
// processes stop too.
func (r *Runner) terminate(pid int) {
	r.logger.Info("terminating subprocess", logging.Int("pid", pid))
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logging.WarnWithContext(r.logger, "failed to signal subprocess", "runner_kill_failed",
			logging.Error(err),
			logging.Int("pid", pid),
			logging.String(logging.FieldImpact, "the job keeps running until it exits"),
		)
	}
}

func (r *Runner) record(out Outcome) error {
	ctx := context.Background()
	data := map[string]any{
		"stdout":  out.Stdout,
		"stderr":  out.Stderr,
		"runtime": out.Runtime.Seconds(),
	}
	eventType := jobs.EventFinished
	switch out.Status {
	case jobs.StatusKilled:
		eventType = jobs.EventKilled
	case jobs.StatusFailed:
		eventType = jobs.EventFailed
		data["return_code"] = out.ReturnCode
	}
	r.logger.Info("subprocess ended",
		logging.String("status", string(out.Status)),
		logging.Int("return_code", out.ReturnCode),
		logging.Duration("runtime", out.Runtime),
	)

	var errs []error
	if err := r.store.SetProgress(ctx, r.job.UUID, nil); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.store.AppendEvent(ctx, r.job.UUID, eventType, "", data); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.SetStatus(ctx, r.job.UUID, out.Status, 0); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runner) recordStartFailure(startErr error, runtime time.Duration) (Outcome, error) {
	logging.ErrorWithContext(r.logger, "failed to start subprocess", "runner_start_failed",
		logging.Error(startErr),
		logging.String(logging.FieldErrorHint, "check that the voxelpipe executable is accessible"),
	)
	ctx := context.Background()
	out := Outcome{Status: jobs.StatusFailed, ReturnCode: -1, Runtime: runtime}
	_, eventErr := r.store.AppendExceptionEvent(ctx, r.job.UUID, fmt.Errorf("start subprocess: %w", startErr), "")
	statusErr := r.store.SetStatus(ctx, r.job.UUID, jobs.StatusFailed, 0)
	return out, errors.Join(statusErr, eventErr)
}

// exitCode returns the child's exit code, or the negated signal number when
// a signal ended it.
func exitCode(state *os.ProcessState, waitErr error) int {
	if state == nil {
		if waitErr != nil {
			return -1
		}
		return 0
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal())
	}
	return state.ExitCode()
}

// syncBuffer collects output written by the exec copy goroutines while the
// run loop may read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
