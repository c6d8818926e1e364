package testsupport

import (
	"context"
	"testing"

	"voxelpipe/internal/config"
	"voxelpipe/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RequestJob records a requested job with the given kwargs.
func RequestJob(t testing.TB, store *jobs.Store, name string, kwargs map[string]any) *jobs.Job {
	t.Helper()

	job, err := store.RequestJob(context.Background(), name, kwargs, "")
	if err != nil {
		t.Fatalf("store.RequestJob: %v", err)
	}
	return job
}
