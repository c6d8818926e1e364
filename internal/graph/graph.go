package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"voxelpipe/internal/logging"
	"voxelpipe/internal/module"
	"voxelpipe/internal/services"
)

// SkipPolicy decides when stored results may be reused.
type SkipPolicy string

const (
	SkipNever     SkipPolicy = "never"
	SkipExists    SkipPolicy = "exists"
	SkipUnchanged SkipPolicy = "unchanged"
)

// ParseSkipPolicy validates a policy name. An empty name means SkipNever.
func ParseSkipPolicy(value string) (SkipPolicy, error) {
	switch p := SkipPolicy(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return SkipNever, nil
	case SkipNever, SkipExists, SkipUnchanged:
		return p, nil
	default:
		return "", services.Wrap(services.ErrValidation, "graph", "skip policy", fmt.Sprintf("unknown skip policy %q", value), nil)
	}
}

// DefaultSidecarExt names descriptor sidecars "<file>.vxp.json".
const DefaultSidecarExt = "vxp"

// Options configures a Graph.
type Options struct {
	// DataDir is the root every data-relative filename resolves against.
	DataDir string
	// TargetPath is the data-relative directory results are stored under.
	// Nothing is stored when it is empty.
	TargetPath string
	SkipPolicy SkipPolicy
	SidecarExt string
	Logger     *slog.Logger
	// LogSkipping logs every skip decision at info level instead of debug.
	LogSkipping bool
}

// Report counts the items of one Process call.
type Report struct {
	SourceObjects  int `json:"source_objects"`
	TargetObjects  int `json:"target_objects"`
	SkippedObjects int `json:"skipped_objects"`
}

// Graph runs source, filter and process modules in that order.
type Graph struct {
	opts      Options
	logger    *slog.Logger
	modules   []*module.Instance
	sources   []*module.Instance
	filters   []*module.Instance
	processes []*module.Instance

	storagePaths map[string]string
	report       Report
}

// New partitions modules by capability and assigns storage paths.
func New(modules []*module.Instance, opts Options) (*Graph, error) {
	if opts.SkipPolicy == "" {
		opts.SkipPolicy = SkipNever
	}
	if opts.SidecarExt == "" {
		opts.SidecarExt = DefaultSidecarExt
	}
	opts.TargetPath = strings.Trim(opts.TargetPath, "/")

	g := &Graph{
		opts:         opts,
		logger:       logging.NewComponentLogger(opts.Logger, "graph"),
		modules:      append([]*module.Instance(nil), modules...),
		storagePaths: make(map[string]string),
	}
	seen := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if m == nil {
			return nil, errors.New("graph: nil module")
		}
		if m.UUID() == "" {
			return nil, fmt.Errorf("graph: module %s has no uuid", m.Name())
		}
		if _, dup := seen[m.UUID()]; dup {
			return nil, fmt.Errorf("graph: duplicate module uuid %s", m.UUID())
		}
		seen[m.UUID()] = struct{}{}

		switch m.Capability() {
		case module.CapSource:
			g.sources = append(g.sources, m)
		case module.CapFilter:
			g.filters = append(g.filters, m)
		case module.CapProcess:
			g.processes = append(g.processes, m)
		}
	}
	g.assignStoragePaths()
	return g, nil
}

// assignStoragePaths gives every storing process module a directory below the
// target path. Default names collide into name, name2, name3 in declaration
// order; explicit paths are used verbatim.
func (g *Graph) assignStoragePaths() {
	counts := make(map[string]int)
	for idx, m := range g.processes {
		final := idx == len(g.processes)-1
		if !final && !m.BoolValue(module.ParamStoreResult) {
			continue
		}
		if explicit := strings.Trim(m.StringValue(module.ParamResultPath), "/"); explicit != "" {
			counts[explicit]++
			g.storagePaths[m.UUID()] = explicit
			continue
		}
		name := m.Name()
		counts[name]++
		if n := counts[name]; n > 1 {
			name += strconv.Itoa(n)
		}
		g.storagePaths[m.UUID()] = name
	}
}

// StoragePaths lists the assigned storage directories in process order.
func (g *Graph) StoragePaths() []string {
	var out []string
	for _, m := range g.processes {
		if p, ok := g.storagePaths[m.UUID()]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (g *Graph) Sources() []*module.Instance   { return append([]*module.Instance(nil), g.sources...) }
func (g *Graph) Filters() []*module.Instance   { return append([]*module.Instance(nil), g.filters...) }
func (g *Graph) Processes() []*module.Instance { return append([]*module.Instance(nil), g.processes...) }

// Report returns the counters of the last Process call.
func (g *Graph) Report() Report { return g.report }

func (g *Graph) env(stub bool, interval, offset int) module.Env {
	return module.Env{
		DataDir:    g.opts.DataDir,
		SidecarExt: g.opts.SidecarExt,
		Stub:       stub,
		Interval:   max(interval, 1),
		Offset:     offset,
		Logger:     g.logger,
	}
}

// PrepareModules runs every module's setup once.
func (g *Graph) PrepareModules(ctx context.Context) error {
	env := g.env(false, 1, 0)
	for _, m := range g.modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Prepare(services.WithModule(ctx, m.UUID()), env); err != nil {
			return err
		}
	}
	return nil
}

// SourceObjectCounts returns the item count of every source module keyed by uuid.
func (g *Graph) SourceObjectCounts(ctx context.Context) (map[string]int, error) {
	env := g.env(false, 1, 0)
	counts := make(map[string]int, len(g.sources))
	for _, m := range g.sources {
		n, err := m.AsSource().ObjectCount(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("count objects of %s: %w", m, err)
		}
		counts[m.UUID()] = n
	}
	return counts, nil
}
