package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voxelpipe/internal/graph"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/object"
	"voxelpipe/internal/pipelinedef"
	"voxelpipe/internal/services"
	"voxelpipe/internal/workerpool"
)

// PreprocessingName is the job name of pipeline runs.
const PreprocessingName = pipelinedef.DefaultJobName

// Progress titles reported by the preprocessing task.
const (
	ProgressPreparing = "preparing modules"
	ProgressRunning   = "running pipeline"
)

// Preprocessing runs the pipeline stored in the job kwargs.
func Preprocessing(ctx context.Context, env Env, job *jobs.Job) error {
	logger := logging.NewComponentLogger(env.Logger, "preprocessing")
	p, g, err := loadGraph(env, job, logger)
	if err != nil {
		return err
	}
	if len(g.Sources()) == 0 {
		_, err := env.Store.AppendEvent(ctx, job.UUID, jobs.EventError, "quit because no source is defined", nil)
		return err
	}

	if err := setProgress(ctx, env, job.UUID, ProgressPreparing); err != nil {
		return err
	}
	if err := g.PrepareModules(ctx); err != nil {
		return fmt.Errorf("prepare modules: %w", err)
	}
	counts, err := g.SourceObjectCounts(ctx)
	if err != nil {
		return err
	}
	if err := env.Store.SetSourceObjectCounts(ctx, job.UUID, counts); err != nil {
		return err
	}

	numProcesses := p.NumProcesses
	if numProcesses == 0 && env.Config != nil {
		numProcesses = env.Config.Pipeline.NumProcesses
	}
	if err := setProgress(ctx, env, job.UUID, ProgressRunning); err != nil {
		return err
	}
	logger.Info("running pipeline",
		logging.Int("modules", len(p.Modules)),
		logging.Int("processes", max(numProcesses, 1)),
		logging.String("target_path", p.TargetPath),
	)
	if numProcesses <= 1 {
		_, err := RunShard(ctx, env, job.UUID, g, 0, 1)
		return err
	}
	return runSharded(ctx, env, job.UUID, numProcesses, logger)
}

func setProgress(ctx context.Context, env Env, jobID, title string) error {
	return env.Store.SetProgress(ctx, jobID, map[string]any{"title": title, "data": nil})
}

// loadGraph rebuilds the module graph from the job kwargs.
func loadGraph(env Env, job *jobs.Job, logger *slog.Logger) (*pipelinedef.Pipeline, *graph.Graph, error) {
	p, err := pipelinedef.FromKwargs(job.Kwargs)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "preprocessing", "load pipeline", job.UUID, err)
	}
	instances, err := p.Instances(env.Modules)
	if err != nil {
		return nil, nil, err
	}
	opts := graph.Options{TargetPath: p.TargetPath, Logger: logger}
	defaultPolicy := ""
	if env.Config != nil {
		opts.DataDir = env.Config.Paths.DataDir
		opts.SidecarExt = env.Config.Pipeline.SidecarExtension
		defaultPolicy = env.Config.Pipeline.DefaultSkipPolicy
	}
	if opts.SkipPolicy, err = p.Policy(defaultPolicy); err != nil {
		return nil, nil, err
	}
	g, err := graph.New(instances, opts)
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

// RunShard processes every interval-th source item starting at offset and
// records the produced objects, the skipped targets and a graph_result event.
func RunShard(ctx context.Context, env Env, jobID string, g *graph.Graph, offset, interval int) (graph.Report, error) {
	ctx = services.WithShard(ctx, offset)
	ro := graph.RunOptions{
		SourceTypes: []object.DataType{object.TypeImage},
		Interval:    interval,
		Offset:      offset,
		OnSkippedTarget: func(d object.Descriptor) error {
			_, err := env.Store.StoreObject(ctx, jobID, d, true)
			return err
		},
	}
	err := g.Process(ctx, ro, func(obj object.Object) error {
		defer obj.Discard()
		_, err := env.Store.StoreObject(ctx, jobID, obj.Descriptor(), false)
		return err
	})
	if err != nil {
		return graph.Report{}, err
	}
	report := g.Report()
	_, err = env.Store.AppendEvent(ctx, jobID, jobs.EventGraphResult, "", map[string]any{
		"sub_process": offset,
		"report":      report,
	})
	return report, err
}

// ShardRequestKind names shard requests sent to worker processes.
const ShardRequestKind = "graph_shard"

// ShardRequest asks a worker to run one shard of a job.
type ShardRequest struct {
	JobUUID  string `json:"job_uuid"`
	Offset   int    `json:"offset"`
	Interval int    `json:"interval"`
}

// ShardResult is a worker's answer to a ShardRequest.
type ShardResult struct {
	SubProcess int          `json:"sub_process"`
	Report     graph.Report `json:"report"`
}

func runSharded(ctx context.Context, env Env, jobID string, n int, logger *slog.Logger) error {
	if env.WorkerCommand == nil {
		return services.Wrap(services.ErrConfiguration, "preprocessing", "start workers", "no worker command configured", nil)
	}
	pool := workerpool.NewProcPool(env.WorkerCommand, workerpool.WithSize(n), workerpool.WithLogger(logger))
	if err := pool.Start(ctx); err != nil {
		return err
	}

	results := make([]<-chan workerpool.Result, 0, n)
	for offset := 0; offset < n; offset++ {
		req, err := workerpool.NewRequest(ShardRequestKind, ShardRequest{JobUUID: jobID, Offset: offset, Interval: n})
		if err != nil {
			pool.Kill()
			return err
		}
		results = append(results, pool.Submit(req))
	}

	var errs []error
	for _, ch := range results {
		select {
		case <-ctx.Done():
			logger.Info("killing worker processes", logging.Int("processes", n))
			pool.Kill()
			return ctx.Err()
		case res := <-ch:
			var out ShardResult
			if err := res.Decode(&out); err != nil {
				errs = append(errs, fmt.Errorf("shard: %w", err))
				continue
			}
			logger.Debug("shard finished",
				logging.Int(logging.FieldShard, out.SubProcess),
				logging.Int("source_objects", out.Report.SourceObjects),
				logging.Int("target_objects", out.Report.TargetObjects),
				logging.Int("skipped_objects", out.Report.SkippedObjects),
			)
		}
	}
	pool.Stop()
	return errors.Join(errs...)
}
