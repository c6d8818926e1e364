package task

import (
	"context"
	"encoding/json"
	"fmt"

	"voxelpipe/internal/logging"
	"voxelpipe/internal/services"
	"voxelpipe/internal/workerpool"
)

// WorkerHandlers returns the request handlers of a worker process.
func WorkerHandlers(env Env) map[string]workerpool.Handler {
	return map[string]workerpool.Handler{
		ShardRequestKind: ShardHandler(env),
	}
}

// ShardHandler answers ShardRequests by rebuilding the job's graph in the
// worker process and running the requested shard.
func ShardHandler(env Env) workerpool.Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req ShardRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode shard request: %w", err)
		}
		if req.Interval < 1 || req.Offset < 0 || req.Offset >= req.Interval {
			return nil, services.Wrap(services.ErrValidation, "worker", "shard", fmt.Sprintf("invalid shard %d/%d", req.Offset, req.Interval), nil)
		}
		job, err := env.Store.GetJob(ctx, req.JobUUID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, services.Wrap(services.ErrNotFound, "worker", "shard", req.JobUUID, nil)
		}
		ctx = services.WithJobID(ctx, job.UUID)
		logger := logging.WithContext(services.WithShard(ctx, req.Offset), logging.NewComponentLogger(env.Logger, "worker"))

		_, g, err := loadGraph(env, job, logger)
		if err != nil {
			return nil, err
		}
		if err := g.PrepareModules(ctx); err != nil {
			return nil, fmt.Errorf("prepare modules: %w", err)
		}
		report, err := RunShard(ctx, env, job.UUID, g, req.Offset, req.Interval)
		if err != nil {
			return nil, err
		}
		return ShardResult{SubProcess: req.Offset, Report: report}, nil
	}
}
