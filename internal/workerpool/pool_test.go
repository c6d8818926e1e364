package workerpool_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"voxelpipe/internal/workerpool"
)

func TestPoolDrainsQueuedTasks(t *testing.T) {
	pool := workerpool.New(workerpool.WithSize(3))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		if err := pool.Submit(func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := pool.Stop(true); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := ran.Load(); got != 50 {
		t.Fatalf("expected 50 tasks to run, got %d", got)
	}
	if err := pool.Submit(func(context.Context) error { return nil }); !errors.Is(err, workerpool.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestPoolStopWithoutDrainAbandonsQueue(t *testing.T) {
	pool := workerpool.New(workerpool.WithSize(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := make(chan struct{})
	if err := pool.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		if err := pool.Submit(func(context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	err := pool.Stop(false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the running task to observe cancellation, got %v", err)
	}
	if got := ran.Load(); got != 0 {
		t.Fatalf("expected queued tasks to be abandoned, %d ran", got)
	}
}

func TestPoolReportsTaskErrorsAndPanics(t *testing.T) {
	pool := workerpool.New(workerpool.WithSize(2))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	boom := errors.New("boom")
	_ = pool.Submit(func(context.Context) error { return boom })
	_ = pool.Submit(func(context.Context) error { panic("kaput") })
	_ = pool.Submit(func(context.Context) error { return nil })

	err := pool.Stop(true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined task error, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("expected panic to be reported, got %v", err)
	}
}

func TestPoolDefaultsToAvailableParallelism(t *testing.T) {
	if pool := workerpool.New(); pool.Size() < 1 {
		t.Fatalf("expected at least one worker, got %d", pool.Size())
	}
}
