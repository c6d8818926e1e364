package jobs_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voxelpipe/internal/jobs"
	"voxelpipe/internal/object"
	"voxelpipe/internal/testsupport"
)

func TestRequestJobRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.RequestJob(ctx, "preprocessing", map[string]any{"plugin": map[string]any{"target_path": "out"}}, "src-1")
	if err != nil {
		t.Fatalf("RequestJob failed: %v", err)
	}
	if !strings.HasPrefix(job.UUID, jobs.JobPrefix) {
		t.Fatalf("unexpected job uuid %q", job.UUID)
	}
	if job.Status != jobs.StatusRequested || job.SourceUUID != "src-1" {
		t.Fatalf("unexpected job: %#v", job)
	}
	plugin, ok := job.Kwargs["plugin"].(map[string]any)
	if !ok || plugin["target_path"] != "out" {
		t.Fatalf("kwargs not preserved: %#v", job.Kwargs)
	}

	missing, err := store.GetJob(ctx, "p-missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil job for unknown uuid, got %#v, %v", missing, err)
	}
	if _, err := store.RequestJob(ctx, "", nil, ""); err == nil {
		t.Fatal("expected error for empty job name")
	}
}

func TestNextRequestedIsOldest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.RequestJob(t, store, "preprocessing", nil)
	second := testsupport.RequestJob(t, store, "preprocessing", nil)
	if _, err := store.CreateStub(ctx, "preprocessing", nil, ""); err != nil {
		t.Fatalf("CreateStub failed: %v", err)
	}

	next, err := store.NextRequested(ctx)
	if err != nil {
		t.Fatalf("NextRequested failed: %v", err)
	}
	if next == nil || next.UUID != first.UUID {
		t.Fatalf("expected %s, got %#v", first.UUID, next)
	}

	if err := store.SetStatus(ctx, first.UUID, jobs.StatusStarted, 4242); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	next, err = store.NextRequested(ctx)
	if err != nil {
		t.Fatalf("NextRequested failed: %v", err)
	}
	if next == nil || next.UUID != second.UUID {
		t.Fatalf("expected %s, got %#v", second.UUID, next)
	}

	requested, err := store.ListJobs(ctx, jobs.StatusRequested)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(requested) != 1 {
		t.Fatalf("expected 1 requested job, got %d", len(requested))
	}
	all, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
}

func TestStatusTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.RequestJob(t, store, "preprocessing", nil)
	if err := store.SetStatus(ctx, job.UUID, jobs.StatusStarted, 99); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.SetStatus(ctx, job.UUID, jobs.StatusFinished, 0); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := store.SetStatus(ctx, job.UUID, jobs.StatusRequested, 0); !errors.Is(err, jobs.ErrStatusTransition) {
		t.Fatalf("expected ErrStatusTransition, got %v", err)
	}
	if err := store.SetStatus(ctx, job.UUID, jobs.StatusFailed, 0); !errors.Is(err, jobs.ErrStatusTransition) {
		t.Fatalf("expected ErrStatusTransition, got %v", err)
	}
	// A kill racing the final write wins.
	if err := store.SetStatus(ctx, job.UUID, jobs.StatusKilled, 0); err != nil {
		t.Fatalf("kill: %v", err)
	}

	updated, err := store.GetJob(ctx, job.UUID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if updated.Status != jobs.StatusKilled || updated.PID != 99 {
		t.Fatalf("unexpected job after transitions: %#v", updated)
	}
	if err := store.SetStatus(ctx, "p-missing", jobs.StatusStarted, 0); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestProgressAndCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.RequestJob(t, store, "preprocessing", nil)
	if err := store.SetProgress(ctx, job.UUID, map[string]any{"text": "running pipeline"}); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}
	if err := store.SetSourceObjectCounts(ctx, job.UUID, map[string]int{"mod-a": 4}); err != nil {
		t.Fatalf("SetSourceObjectCounts failed: %v", err)
	}
	updated, _ := store.GetJob(ctx, job.UUID)
	if updated.Progress["text"] != "running pipeline" || updated.SourceObjectCounts["mod-a"] != 4 {
		t.Fatalf("unexpected job: %#v", updated)
	}

	if err := store.SetProgress(ctx, job.UUID, nil); err != nil {
		t.Fatalf("clear progress: %v", err)
	}
	updated, _ = store.GetJob(ctx, job.UUID)
	if updated.Progress != nil {
		t.Fatalf("expected cleared progress, got %#v", updated.Progress)
	}
}

func TestEventsAreOrderedAndFiltered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.RequestJob(ctx, "preprocessing", nil, "analysis-7")
	if err != nil {
		t.Fatalf("RequestJob failed: %v", err)
	}
	for _, text := range []string{"one", "two"} {
		if _, err := store.AppendEvent(ctx, job.UUID, jobs.EventInfo, text, nil); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	if _, err := store.AppendExceptionEvent(ctx, job.UUID, errors.New("boom"), "goroutine 1 [running]"); err != nil {
		t.Fatalf("AppendExceptionEvent failed: %v", err)
	}

	events, err := store.Events(ctx, job.UUID, "")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 || events[0].Text != "one" || events[1].Text != "two" {
		t.Fatalf("unexpected events: %#v", events)
	}
	if events[0].SourceUUID != "analysis-7" {
		t.Fatalf("event did not inherit source uuid: %#v", events[0])
	}

	exceptions, err := store.Events(ctx, job.UUID, jobs.EventException)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(exceptions) != 1 || exceptions[0].Data["traceback"] != "goroutine 1 [running]" {
		t.Fatalf("unexpected exception events: %#v", exceptions)
	}

	if _, err := store.AppendEvent(ctx, "p-missing", jobs.EventInfo, "x", nil); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func storedDescriptor(source, target, targetModule string) object.Descriptor {
	return object.Descriptor{
		ObjectClass: "ImageObject",
		DataType:    object.TypeImage,
		Filename:    target,
		Actions: []object.Action{
			{Name: object.ActionLoaded, Module: map[string]any{"uuid": "mod-src"}, Data: map[string]any{"filename": source, "mtime": int64(1700000000000000001)}},
			{Name: object.ActionStored, Module: map[string]any{"uuid": targetModule}, Data: map[string]any{"filename": target}},
		},
	}
}

func TestObjectsAndCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.RequestJob(t, store, "preprocessing", nil)

	records := []struct {
		d       object.Descriptor
		skipped bool
	}{
		{storedDescriptor("in/a.nii", "out/split/a_a.nii", "mod-split"), false},
		{storedDescriptor("in/a.nii", "out/split/a_b.nii", "mod-split"), false},
		{storedDescriptor("in/b.nii", "out/split/b_a.nii", "mod-split"), true},
		{storedDescriptor("in/b.nii", "out/split/b_a.nii", "mod-split"), true},
	}
	for _, r := range records {
		if _, err := store.StoreObject(ctx, job.UUID, r.d, r.skipped); err != nil {
			t.Fatalf("StoreObject failed: %v", err)
		}
	}

	all, err := store.Objects(ctx, job.UUID, jobs.ObjectFilter{})
	if err != nil {
		t.Fatalf("Objects failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 objects, got %d", len(all))
	}
	first := all[0]
	if first.SourceFilename != "in/a.nii" || first.TargetFilename != "out/split/a_a.nii" || first.TargetModule != "mod-split" {
		t.Fatalf("unexpected record: %#v", first)
	}
	if mtime, ok := first.Descriptor.Actions[0].Int64("mtime"); !ok || mtime != 1700000000000000001 {
		t.Fatalf("mtime lost precision: %v %v", mtime, ok)
	}

	skipped := true
	bySource, err := store.Objects(ctx, job.UUID, jobs.ObjectFilter{SourceFilename: "in/b.nii", Skipped: &skipped})
	if err != nil {
		t.Fatalf("Objects failed: %v", err)
	}
	if len(bySource) != 2 {
		t.Fatalf("expected 2 skipped objects of in/b.nii, got %d", len(bySource))
	}

	counts, err := store.ObjectCounts(ctx, job.UUID)
	if err != nil {
		t.Fatalf("ObjectCounts failed: %v", err)
	}
	if counts.Sources["mod-src"] != 2 || counts.Targets["mod-split"] != 3 {
		t.Fatalf("unexpected counts: %#v", counts)
	}
}

func TestResetStartedFailsOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	orphan := testsupport.RequestJob(t, store, "preprocessing", nil)
	waiting := testsupport.RequestJob(t, store, "preprocessing", nil)
	if err := store.SetStatus(ctx, orphan.UUID, jobs.StatusStarted, 1); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	reset, err := store.ResetStarted(ctx, "scheduler restarted")
	if err != nil {
		t.Fatalf("ResetStarted failed: %v", err)
	}
	if len(reset) != 1 || reset[0] != orphan.UUID {
		t.Fatalf("unexpected reset ids: %v", reset)
	}
	got, _ := store.GetJob(ctx, orphan.UUID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	got, _ = store.GetJob(ctx, waiting.UUID)
	if got.Status != jobs.StatusRequested {
		t.Fatalf("expected requested, got %s", got.Status)
	}
	events, _ := store.Events(ctx, orphan.UUID, jobs.EventFailed)
	if len(events) != 1 || events[0].Text != "scheduler restarted" {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestParseStatus(t *testing.T) {
	status, err := jobs.ParseStatus(" Finished ")
	if err != nil || status != jobs.StatusFinished {
		t.Fatalf("ParseStatus = %q, %v", status, err)
	}
	if !status.Terminal() || jobs.StatusStarted.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
	if _, err := jobs.ParseStatus("paused"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestDeleteJobRemovesEventsAndObjects(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.RequestJob(t, store, "preprocessing", nil)
	other := testsupport.RequestJob(t, store, "preprocessing", nil)

	for _, id := range []string{job.UUID, other.UUID} {
		if _, err := store.AppendEvent(ctx, id, jobs.EventInfo, "note", nil); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if _, err := store.StoreObject(ctx, id, storedDescriptor("in/a.nii", "out/noop/a.nii", "mod-noop"), false); err != nil {
			t.Fatalf("StoreObject failed: %v", err)
		}
	}

	if err := store.DeleteJob(ctx, job.UUID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if got, err := store.GetJob(ctx, job.UUID); err != nil || got != nil {
		t.Fatalf("expected job to be gone, got %#v, %v", got, err)
	}
	events, err := store.Events(ctx, job.UUID, "")
	if err != nil || len(events) != 0 {
		t.Fatalf("expected events to be deleted, got %d, %v", len(events), err)
	}
	objects, err := store.Objects(ctx, job.UUID, jobs.ObjectFilter{})
	if err != nil || len(objects) != 0 {
		t.Fatalf("expected objects to be deleted, got %d, %v", len(objects), err)
	}
	if kept, _ := store.Objects(ctx, other.UUID, jobs.ObjectFilter{}); len(kept) != 1 {
		t.Fatalf("expected other job to keep its object, got %d", len(kept))
	}

	if err := store.DeleteJob(ctx, job.UUID); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
