package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voxelpipe/internal/ipc"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/modules/builtin"
	"voxelpipe/internal/scheduler"
)

const (
	serveServer    = "server"
	serveScheduler = "scheduler"
	serveBoth      = "both"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "serve [server|scheduler|both]",
		Short:     "Run the control socket, the job scheduler or both",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{serveServer, serveScheduler, serveBoth},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := serveBoth
			if len(args) == 1 {
				mode = args[0]
			}
			return runServe(cmd, ctx, mode)
		},
	}
}

func runServe(cmd *cobra.Command, ctx *commandContext, mode string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger()
	if err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := jobs.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	var sched *scheduler.Scheduler
	if mode == serveScheduler || mode == serveBoth {
		if sched, err = scheduler.New(cfg, store, logger); err != nil {
			return err
		}
	}

	if mode == serveServer || mode == serveBoth {
		deps := ipc.Deps{Store: store, Modules: builtin.NewRegistry(), Logger: logger}
		if sched != nil {
			deps.Scheduler = sched
		}
		srv, err := ipc.NewServer(signalCtx, ctx.socketPath(), deps)
		if err != nil {
			return fmt.Errorf("start control socket: %w", err)
		}
		defer srv.Close()
		srv.Serve()
		logger.Info("control socket listening", logging.String("socket", ctx.socketPath()))
	}

	if sched != nil {
		if err := sched.Run(signalCtx); err != nil && !errors.Is(err, signalCtx.Err()) {
			return err
		}
	} else {
		<-signalCtx.Done()
	}
	logger.Info("voxelpipe shutting down", logging.String("mode", mode))
	return nil
}
