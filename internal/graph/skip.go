package graph

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"voxelpipe/internal/logging"
	"voxelpipe/internal/object"
	"voxelpipe/internal/services"
)

// TargetFile is a stored result found below the target path.
type TargetFile struct {
	// Filename is relative to the target path.
	Filename   string
	Descriptor object.Descriptor
	// Mtime is the modification time recorded by the stored action.
	Mtime int64
}

// targetMap groups descriptors by source filename, then stored filename.
type targetMap map[string]map[string]object.Descriptor

func (m targetMap) add(d object.Descriptor, target string) {
	src := d.SourceFilename()
	if m[src] == nil {
		m[src] = make(map[string]object.Descriptor)
	}
	m[src][target] = d
}

// TargetFiles scans the target path for sidecars whose data file exists and
// whose chain starts with a loaded action and ends with a stored one. Under
// SkipUnchanged the recorded mtime must also match the data file.
func (g *Graph) TargetFiles() ([]TargetFile, error) {
	if g.opts.TargetPath == "" {
		return nil, nil
	}
	root := filepath.Join(g.opts.DataDir, filepath.FromSlash(g.opts.TargetPath))
	suffix := "." + g.opts.SidecarExt + ".json"

	var out []TargetFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, suffix) {
			return nil
		}
		dataFile := strings.TrimSuffix(p, suffix)
		info, err := os.Stat(dataFile)
		if err != nil {
			return nil
		}
		desc, err := object.ReadDescriptor(p)
		if err != nil {
			logging.WarnWithContext(g.logger, "unreadable sidecar", "graph_sidecar_invalid",
				logging.String("path", p),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the sidecar to have the target rebuilt"),
				logging.String(logging.FieldImpact, "target is treated as missing"),
			)
			return nil
		}
		if len(desc.Actions) == 0 {
			return nil
		}
		first, last := desc.Actions[0], desc.Actions[len(desc.Actions)-1]
		if first.Name != object.ActionLoaded || last.Name != object.ActionStored {
			return nil
		}
		mtime, hasMtime := last.Int64("mtime")
		if g.opts.SkipPolicy != SkipExists && (!hasMtime || mtime != info.ModTime().UnixNano()) {
			return nil
		}
		rel, err := filepath.Rel(root, dataFile)
		if err != nil {
			return err
		}
		out = append(out, TargetFile{Filename: filepath.ToSlash(rel), Descriptor: desc, Mtime: mtime})
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "graph", "scan targets", g.opts.TargetPath, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (g *Graph) existingSourceTargets() (targetMap, error) {
	files, err := g.TargetFiles()
	if err != nil {
		return nil, err
	}
	m := make(targetMap)
	for _, tf := range files {
		m.add(tf.Descriptor, tf.Descriptor.StoredFilename())
	}
	return m, nil
}

// stubSourceTargets runs the graph with placeholder payloads to learn which
// targets the current configuration would produce.
func (g *Graph) stubSourceTargets(ctx context.Context, ro RunOptions) (targetMap, error) {
	m := make(targetMap)
	var discarded Report
	err := g.run(ctx, ro, true, nil, &discarded, func(obj object.Object) error {
		actions := obj.Actions()
		if len(actions) == 0 {
			return nil
		}
		target, _ := actions[len(actions)-1].String("filename")
		m.add(obj.Descriptor(), target)
		return nil
	})
	return m, err
}

// decide reports whether a source item must be processed.
func (g *Graph) decide(obj object.Object, existing, desired targetMap, onSkipped func(object.Descriptor) error) (bool, error) {
	actions := obj.Actions()
	if len(actions) == 0 {
		return true, nil
	}
	src, _ := actions[0].String("filename")

	have, ok := existing[src]
	if !ok {
		g.logSkip("new source", logging.String("source", src))
		return true, nil
	}
	want, ok := desired[src]
	if !ok {
		logging.WarnWithContext(g.logger, "source missing from stub pass", "graph_stub_mismatch",
			logging.String("source", src),
			logging.String(logging.FieldErrorHint, "check that sources enumerate identically in stub mode"),
			logging.String(logging.FieldImpact, "source is processed again"),
		)
		return true, nil
	}
	if !sameKeys(have, want) {
		g.logSkip("missing target file(s) for source", logging.String("source", src))
		return true, nil
	}

	if g.opts.SkipPolicy == SkipUnchanged {
		current, _ := actions[0].Int64("mtime")
		for _, d := range have {
			recorded, ok := d.Actions[0].Int64("mtime")
			if !ok || recorded != current {
				g.logSkip("source mtime changed", logging.String("source", src))
				return true, nil
			}
		}
		for target, d := range want {
			if !object.ChainsMatch(d.Actions, have[target].Actions) {
				g.logSkip("recorded and desired actions differ",
					logging.String("source", src),
					logging.String("target", target),
					logging.Int("recorded", len(have[target].Actions)),
					logging.Int("desired", len(d.Actions)),
				)
				return true, nil
			}
		}
	}

	g.logSkip("targets are current", logging.String("source", src), logging.Int("targets", len(have)))
	g.report.SkippedObjects++
	if onSkipped != nil {
		targets := make([]string, 0, len(have))
		for target := range have {
			targets = append(targets, target)
		}
		slices.Sort(targets)
		for _, target := range targets {
			if err := onSkipped(have[target]); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func sameKeys(a, b map[string]object.Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (g *Graph) logSkip(msg string, attrs ...logging.Attr) {
	if g.opts.LogSkipping {
		g.logger.Info(msg, logging.Args(attrs...)...)
		return
	}
	g.logger.Debug(msg, logging.Args(attrs...)...)
}

// ObjectFromDescriptor rebuilds the stored object a target descriptor points to.
func (g *Graph) ObjectFromDescriptor(d object.Descriptor) (object.Object, error) {
	return object.FromDescriptor(g.opts.DataDir, d)
}
