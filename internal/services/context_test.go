package services_test

import (
	"context"
	"testing"

	"voxelpipe/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "p-123")
	ctx = services.WithModule(ctx, "mod-abc")
	ctx = services.WithShard(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "p-123" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if mod, ok := services.ModuleFromContext(ctx); !ok || mod != "mod-abc" {
		t.Fatalf("unexpected module: %v %v", mod, ok)
	}
	if shard, ok := services.ShardFromContext(ctx); !ok || shard != 2 {
		t.Fatalf("unexpected shard: %v %v", shard, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "")
	ctx = services.WithModule(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id")
	}
	if _, ok := services.ModuleFromContext(ctx); ok {
		t.Fatal("expected no module")
	}
	if _, ok := services.ShardFromContext(ctx); ok {
		t.Fatal("expected no shard")
	}
}
