package workerpool_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"voxelpipe/internal/workerpool"
)

var helperHandlers = map[string]workerpool.Handler{
	"double": func(_ context.Context, payload json.RawMessage) (any, error) {
		var n int
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, err
		}
		return n * 2, nil
	},
	"fail": func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("shard failed")
	},
	"sleep": func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(time.Minute):
		case <-ctx.Done():
		}
		return nil, nil
	},
	"pid": func(context.Context, json.RawMessage) (any, error) {
		return os.Getpid(), nil
	},
}

// TestHelperProcess is not a real test; it is the worker process the pool
// tests launch.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if err := workerpool.Serve(context.Background(), os.Stdin, os.Stdout, helperHandlers); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperCommand(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func mustRequest(t *testing.T, kind string, payload any) workerpool.Request {
	t.Helper()
	req, err := workerpool.NewRequest(kind, payload)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return req
}

func TestProcPoolAnswersRequests(t *testing.T) {
	pool := workerpool.NewProcPool(helperCommand, workerpool.WithSize(2))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var results []<-chan workerpool.Result
	for i := 1; i <= 6; i++ {
		results = append(results, pool.Submit(mustRequest(t, "double", i)))
	}
	failed := pool.Submit(mustRequest(t, "fail", nil))
	unknown := pool.Submit(mustRequest(t, "nope", nil))

	for i, ch := range results {
		var got int
		if err := (<-ch).Decode(&got); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if got != (i+1)*2 {
			t.Fatalf("request %d: expected %d, got %d", i, (i+1)*2, got)
		}
	}
	if res := <-failed; res.Err == nil || res.Err.Error() != "shard failed" {
		t.Fatalf("expected handler error, got %v", res.Err)
	}
	if res := <-unknown; res.Err == nil || !strings.Contains(res.Err.Error(), "unknown request kind") {
		t.Fatalf("expected unknown kind error, got %v", res.Err)
	}
	pool.Stop()

	if res := <-pool.Submit(mustRequest(t, "double", 1)); !errors.Is(res.Err, workerpool.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", res.Err)
	}
}

func TestProcPoolUsesSeparateProcesses(t *testing.T) {
	pool := workerpool.NewProcPool(helperCommand, workerpool.WithSize(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	var pid int
	if err := (<-pool.Submit(mustRequest(t, "pid", nil))).Decode(&pid); err != nil {
		t.Fatalf("pid request failed: %v", err)
	}
	if pid == 0 || pid == os.Getpid() {
		t.Fatalf("expected a worker pid distinct from %d, got %d", os.Getpid(), pid)
	}
}

func TestProcPoolKillAbandonsWork(t *testing.T) {
	pool := workerpool.NewProcPool(helperCommand, workerpool.WithSize(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	results := []<-chan workerpool.Result{
		pool.Submit(mustRequest(t, "sleep", nil)),
		pool.Submit(mustRequest(t, "double", 1)),
		pool.Submit(mustRequest(t, "double", 2)),
	}
	pool.Kill()

	for i, ch := range results {
		select {
		case res := <-ch:
			if !errors.Is(res.Err, workerpool.ErrKilled) {
				t.Fatalf("request %d: expected ErrKilled, got %v", i, res.Err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("request %d: no result after kill", i)
		}
	}
}

func TestProcPoolReportsStartFailure(t *testing.T) {
	missing := func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "/nonexistent/voxelpipe-worker")
	}
	pool := workerpool.NewProcPool(missing, workerpool.WithSize(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	if res := <-pool.Submit(mustRequest(t, "double", 1)); res.Err == nil {
		t.Fatal("expected error from unavailable worker")
	}
}

func TestServeAnswersEachLine(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	_ = enc.Encode(mustRequest(t, "double", 21))
	in.WriteString("not json\n")
	_ = enc.Encode(mustRequest(t, "fail", nil))

	var out bytes.Buffer
	if err := workerpool.Serve(context.Background(), &in, &out, helperHandlers); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses, got %d: %q", len(lines), out.String())
	}
	var first workerpool.Response
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || string(first.Payload) != "42" {
		t.Fatalf("unexpected first response %q (%v)", lines[0], err)
	}
	if !strings.Contains(lines[1], "decode request") || !strings.Contains(lines[2], "shard failed") {
		t.Fatalf("unexpected error responses: %q", lines[1:])
	}
}
