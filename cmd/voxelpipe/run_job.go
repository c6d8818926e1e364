package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voxelpipe/internal/config"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/runner"
	"voxelpipe/internal/services"
	"voxelpipe/internal/task"
	"voxelpipe/internal/workerpool"
)

func newRunJobCommand(ctx *commandContext) *cobra.Command {
	var raise bool
	cmd := &cobra.Command{
		Use:    "run-job <uuid>",
		Short:  "Run one job in this process",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runJob(cmd.Context(), ctx, args[0], raise)
			if code != 0 && err == nil {
				return exitCodeError{code: code}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&raise, "raise", false, "Let panics propagate instead of only recording them")
	return cmd
}

// runJob returns KilledExitCode when SIGTERM or SIGINT ended the job.
func runJob(parent context.Context, ctx *commandContext, jobID string, raise bool) (int, error) {
	env, closeEnv, err := taskEnv(ctx)
	if err != nil {
		return 0, err
	}
	defer closeEnv()

	runCtx, cancel := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	err = task.RunJob(runCtx, env, task.Default(), jobID, raise)
	if runCtx.Err() != nil && (err == nil || errors.Is(err, services.ErrKilled) || errors.Is(err, context.Canceled)) {
		env.Logger.Info("SIGTERM received", logging.String(logging.FieldJobID, jobID))
		return runner.KilledExitCode, nil
	}
	return 0, err
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Answer shard requests on stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := taskEnv(ctx)
			if err != nil {
				return err
			}
			defer closeEnv()
			return workerpool.Serve(cmd.Context(), os.Stdin, os.Stdout, task.WorkerHandlers(env))
		},
	}
}

func taskEnv(ctx *commandContext) (task.Env, func(), error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return task.Env{}, nil, err
	}
	logger, err := ctx.logger()
	if err != nil {
		return task.Env{}, nil, err
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		return task.Env{}, nil, fmt.Errorf("open job store: %w", err)
	}
	env := task.Env{
		Config:        cfg,
		Store:         store,
		Modules:       builtin.NewRegistry(),
		Logger:        logger,
		WorkerCommand: workerCommand(cfg),
	}
	return env, func() { store.Close() }, nil
}

// workerCommand starts this binary as a shard worker with the parent's
// configuration.
func workerCommand(cfg *config.Config) workerpool.CommandFunc {
	return func(ctx context.Context) *exec.Cmd {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		cmd := exec.CommandContext(ctx, exe, "worker")
		cmd.Env = append(os.Environ(), cfg.Environ()...)
		cmd.Stderr = os.Stderr
		return cmd
	}
}
