package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"voxelpipe/internal/fileutil"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/module"
	"voxelpipe/internal/nifti"
	"voxelpipe/internal/object"
	"voxelpipe/internal/services"
)

// RunOptions selects the part of the source stream one Process call handles.
type RunOptions struct {
	// SourceTypes restricts sources to these output types. Empty means all.
	SourceTypes []object.DataType
	Interval    int
	Offset      int
	// OnSkippedTarget receives the descriptor of every existing target whose
	// source was skipped.
	OnSkippedTarget func(object.Descriptor) error
}

// keepFunc decides whether a source item enters the filter and process stages.
type keepFunc func(object.Object) (bool, error)

// Process runs the graph and emits every resulting item. With a skip policy
// other than SkipNever, source items whose stored targets are still valid are
// skipped and their descriptors handed to OnSkippedTarget.
func (g *Graph) Process(ctx context.Context, ro RunOptions, emit func(object.Object) error) error {
	g.report = Report{}
	if g.opts.SkipPolicy == SkipNever || g.opts.TargetPath == "" {
		return g.run(ctx, ro, false, nil, &g.report, emit)
	}

	existing, err := g.existingSourceTargets()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		g.logSkip("no target files found")
		return g.run(ctx, ro, false, nil, &g.report, emit)
	}

	desired, err := g.stubSourceTargets(ctx, ro)
	if err != nil {
		return fmt.Errorf("stub pass: %w", err)
	}
	keep := func(obj object.Object) (bool, error) {
		return g.decide(obj, existing, desired, ro.OnSkippedTarget)
	}
	return g.run(ctx, ro, false, keep, &g.report, emit)
}

// ProcessStub runs the graph on placeholder volumes without writing anything
// and emits the items a real run would produce. Skip policies do not apply.
func (g *Graph) ProcessStub(ctx context.Context, ro RunOptions, emit func(object.Object) error) error {
	g.report = Report{}
	return g.run(ctx, ro, true, nil, &g.report, emit)
}

func (g *Graph) run(ctx context.Context, ro RunOptions, stub bool, keep keepFunc, report *Report, emit func(object.Object) error) error {
	env := g.env(stub, ro.Interval, ro.Offset)

	items, err := g.sourceItems(ctx, env, ro.SourceTypes, keep, report)
	if err != nil {
		return err
	}
	for _, f := range g.filters {
		items, err = f.AsFilter().Filter(services.WithModule(ctx, f.UUID()), env, items)
		if err != nil {
			return fmt.Errorf("filter %s: %w", f, err)
		}
	}
	for idx, m := range g.processes {
		final := idx == len(g.processes)-1
		items, err = g.processStage(ctx, env, m, items, final)
		if err != nil {
			return err
		}
	}
	for _, item := range items {
		report.TargetObjects++
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) sourceItems(ctx context.Context, env module.Env, types []object.DataType, keep keepFunc, report *Report) ([]object.Object, error) {
	var items []object.Object
	for _, m := range g.sources {
		if len(types) > 0 && !producesAny(m.Definition(), types) {
			continue
		}
		mctx := services.WithModule(ctx, m.UUID())
		err := m.AsSource().Objects(mctx, env, func(obj object.Object) error {
			if len(types) > 0 && !slices.Contains(types, obj.DataType()) {
				return nil
			}
			report.SourceObjects++
			if keep != nil {
				ok, err := keep(obj)
				if err != nil {
					return err
				}
				if !ok {
					obj.Discard()
					return nil
				}
			}
			items = append(items, obj)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", m, err)
		}
	}
	return items, nil
}

func producesAny(def *module.Definition, types []object.DataType) bool {
	for _, t := range types {
		if def.Produces(t) {
			return true
		}
	}
	return false
}

// processStage hands matching items to the module and passes the rest
// through. Bypassed items come first, then the module's results.
func (g *Graph) processStage(ctx context.Context, env module.Env, m *module.Instance, items []object.Object, final bool) ([]object.Object, error) {
	var inputs, out []object.Object
	for _, item := range items {
		if m.Accepts(item.DataType()) {
			inputs = append(inputs, item)
		} else {
			out = append(out, item)
		}
	}
	bypassed := len(out)

	mctx := services.WithModule(ctx, m.UUID())
	processed, err := m.AsProcessor().Process(mctx, env, inputs)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", m, err)
	}
	out = append(out, processed...)

	storagePath, ok := g.storagePaths[m.UUID()]
	if !ok || g.opts.TargetPath == "" {
		return out, nil
	}
	for i, item := range out {
		if i < bypassed && !final {
			continue
		}
		stored, err := g.store(mctx, env, m, storagePath, item)
		if err != nil {
			return nil, err
		}
		out[i] = stored
	}
	return out, nil
}

// store writes the payload and its sidecar below the module's storage path
// and returns the object with a stored action appended. Stub runs only
// compute the action.
func (g *Graph) store(ctx context.Context, env module.Env, m *module.Instance, storagePath string, obj object.Object) (object.Object, error) {
	dest := path.Join(g.opts.TargetPath, storagePath, obj.SubPath(), obj.Filename())
	abs := filepath.Join(g.opts.DataDir, filepath.FromSlash(dest))

	var mtime any
	if !env.Stub {
		if err := writePayload(abs, obj); err != nil {
			return nil, services.Wrap(services.ErrIO, "graph", "store", dest, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, services.Wrap(services.ErrIO, "graph", "store", dest, err)
		}
		mtime = info.ModTime().UnixNano()
	}

	action := m.Action(object.ActionStored, map[string]any{"filename": dest, "mtime": mtime})
	stored, err := replace(obj, action)
	if err != nil {
		return nil, err
	}
	if env.Stub {
		return stored, nil
	}

	data, err := json.MarshalIndent(stored.Descriptor(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode descriptor of %s: %w", dest, err)
	}
	if err := fileutil.WriteFileAtomic(g.sidecarPath(abs), data, 0o644); err != nil {
		return nil, services.Wrap(services.ErrIO, "graph", "store sidecar", dest, err)
	}
	logging.WithContext(ctx, g.logger).Debug("stored object",
		logging.String("target", dest),
		logging.Int("actions", len(stored.Actions())),
	)
	return stored, nil
}

func writePayload(abs string, obj object.Object) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	switch o := obj.(type) {
	case *object.Image:
		if o.Volume() == nil {
			return fmt.Errorf("image %s was discarded", o.Filename())
		}
		return nifti.Save(abs, o.Volume())
	case *object.File:
		if src, ok := o.DiskPath(); ok {
			return fileutil.CopyFileVerified(src, abs)
		}
		raw, err := o.RawBytes()
		if err != nil {
			return err
		}
		return fileutil.WriteFileAtomic(abs, raw, 0o644)
	default:
		return fmt.Errorf("cannot store %T", obj)
	}
}

func replace(obj object.Object, action object.Action) (object.Object, error) {
	switch o := obj.(type) {
	case *object.Image:
		return o.Replace(action), nil
	case *object.File:
		return o.Replace(action), nil
	default:
		return nil, fmt.Errorf("cannot derive from %T", obj)
	}
}

func (g *Graph) sidecarPath(dataFile string) string {
	return dataFile + "." + g.opts.SidecarExt + ".json"
}
