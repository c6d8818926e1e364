package main

import (
	"context"
	"strings"
	"testing"

	"voxelpipe/internal/jobs"
)

func TestJobRequestListShowKill(t *testing.T) {
	env := setupCLITestEnv(t)
	pipeline := writePipeline(t, t.TempDir(), resamplePipeline)

	out, _, err := runCLI(t, []string{"job", "request", pipeline}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job request: %v", err)
	}
	requireContains(t, out, "Requested preprocessing job ")
	id := strings.TrimSpace(out[strings.LastIndex(out, " ")+1:])

	out, _, err = runCLI(t, []string{"job", "list", "--status", "requested"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "requested")

	out, _, err = runCLI(t, []string{"job", "kill", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job kill: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected kill message")
	}
	job, err := env.store.GetJob(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != jobs.StatusKilled {
		t.Fatalf("expected killed, got %s", job.Status)
	}

	out, _, err = runCLI(t, []string{"job", "show", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	requireContains(t, out, "Status:   killed")
	requireContains(t, out, string(jobs.EventKilled))

	out, _, err = runCLI(t, []string{"job", "objects", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job objects: %v", err)
	}
	requireContains(t, out, "No objects")
}

func TestJobObjectsRejectsConflictingFilters(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"job", "objects", "job-x", "--skipped", "--processed"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected conflicting filters to fail")
	}
}

func TestJobCommandsReportMissingServer(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"job", "list"}, env.socketPath+".missing", env.configPath)
	if err == nil || !strings.Contains(err.Error(), "voxelpipe serve") {
		t.Fatalf("expected hint to start the server, got %v", err)
	}
}

func TestJobHoldReleaseDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	pipeline := writePipeline(t, t.TempDir(), resamplePipeline)

	out, _, err := runCLI(t, []string{"job", "request", pipeline, "--hold"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job request --hold: %v", err)
	}
	requireContains(t, out, "Holding preprocessing job ")
	id := strings.TrimSpace(out[strings.LastIndex(out, " ")+1:])

	out, _, err = runCLI(t, []string{"job", "list", "--status", "stub"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	requireContains(t, out, id)

	out, _, err = runCLI(t, []string{"job", "release", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job release: %v", err)
	}
	requireContains(t, out, "Queued job "+id)

	if _, _, err := runCLI(t, []string{"job", "delete", id}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected deleting a queued job to fail")
	}
	if _, _, err := runCLI(t, []string{"job", "kill", id}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("job kill: %v", err)
	}
	out, _, err = runCLI(t, []string{"job", "delete", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job delete: %v", err)
	}
	requireContains(t, out, "Deleted job "+id)
	if job, _ := env.store.GetJob(context.Background(), id); job != nil {
		t.Fatalf("expected job to be gone, got %#v", job)
	}
}
