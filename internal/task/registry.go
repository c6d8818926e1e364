package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"voxelpipe/internal/config"
	"voxelpipe/internal/jobs"
	"voxelpipe/internal/module"
	"voxelpipe/internal/services"
	"voxelpipe/internal/workerpool"
)

// Env carries the dependencies of a running task.
type Env struct {
	Config  *config.Config
	Store   *jobs.Store
	Modules *module.Registry
	Logger  *slog.Logger
	// WorkerCommand starts a worker process for sharded runs.
	WorkerCommand workerpool.CommandFunc
}

// Func is the body of a job.
type Func func(ctx context.Context, env Env, job *jobs.Job) error

// Registry maps job names to task bodies.
type Registry struct {
	tasks map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Func)}
}

// Register adds a task. Names are unique.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("task registration requires a name and a body")
	}
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	r.tasks[name] = fn
	return nil
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.tasks[name]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "task", "lookup", fmt.Sprintf("no task named %q", name), nil)
	}
	return fn, nil
}

// Names lists the registered task names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with every built-in task.
func Default() *Registry {
	r := NewRegistry()
	if err := r.Register(PreprocessingName, Preprocessing); err != nil {
		panic(err)
	}
	return r
}
