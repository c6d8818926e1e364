package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	moduleKey    contextKey = "module"
	shardKey     contextKey = "shard"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job uuid.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job uuid if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithModule annotates context with the uuid of the module currently running.
func WithModule(ctx context.Context, uuid string) context.Context {
	if uuid == "" {
		return ctx
	}
	return context.WithValue(ctx, moduleKey, uuid)
}

// ModuleFromContext returns the module uuid if present.
func ModuleFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(moduleKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithShard annotates context with the shard offset of a sharded graph run.
func WithShard(ctx context.Context, offset int) context.Context {
	return context.WithValue(ctx, shardKey, offset)
}

// ShardFromContext returns the shard offset if present.
func ShardFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(shardKey).(int)
	return v, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
