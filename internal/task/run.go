package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/services"
)

// RunJob loads a job and runs its task under RunAndCatch. It is the body of
// the run-job subprocess.
func RunJob(ctx context.Context, env Env, tasks *Registry, jobID string, raise bool) error {
	if env.Logger == nil {
		env.Logger = logging.NewNop()
	}
	job, err := env.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "task", "load job", jobID, nil)
	}
	fn, err := tasks.Lookup(job.Name)
	if err != nil {
		return err
	}
	ctx = services.WithJobID(ctx, job.UUID)
	env.Logger = logging.WithContext(ctx, env.Logger)
	return RunAndCatch(ctx, env, job, fn, raise)
}

// RunAndCatch runs fn once. A returned error or a panic is recorded as an
// exception event and returned; with raise set a panic propagates to the
// caller after being recorded. Cancellation is reported as ErrKilled and not
// recorded.
func RunAndCatch(ctx context.Context, env Env, job *jobs.Job, fn Func, raise bool) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		stack := string(debug.Stack())
		panicErr := fmt.Errorf("task %s panicked: %v", job.Name, r)
		recordException(env, job, panicErr, stack)
		if raise {
			panic(r)
		}
		err = panicErr
	}()

	err = fn(ctx, env, job)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return services.Wrap(services.ErrKilled, "task", job.Name, "run cancelled", err)
	}
	recordException(env, job, err, fmt.Sprintf("%+v", err))
	return err
}

func recordException(env Env, job *jobs.Job, failure error, trace string) {
	logging.ErrorWithContext(env.Logger, "task failed", "task_exception",
		logging.String("task", job.Name),
		logging.Error(failure),
	)
	// The run context may already be cancelled; the record must still land.
	if _, err := env.Store.AppendExceptionEvent(context.Background(), job.UUID, failure, trace); err != nil {
		logging.ErrorWithContext(env.Logger, "failed to record exception event", "task_exception_store_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
	}
}
