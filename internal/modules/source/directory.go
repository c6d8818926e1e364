package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"voxelpipe/internal/module"
	"voxelpipe/internal/object"
	"voxelpipe/internal/param"
	"voxelpipe/internal/services"
)

// Parameter names shared by the directory sources.
const (
	ParamSourceDirectory = "source_directory"
	ParamGlobPattern     = "glob_pattern"
	ParamRecursive       = "recursive"
	ParamTraverseTar     = "traverse_tar"
)

func directoryParameters() []*param.Parameter {
	return []*param.Parameter{
		param.Filepath(ParamSourceDirectory, "/", param.WithDescription("The directory containing the source files")),
		param.String(ParamGlobPattern, "*", param.WithDescription("The globbing pattern to search for files")),
		param.Bool(ParamRecursive, false, param.WithDescription("Recursively scan sub-directories")),
		param.Bool(ParamTraverseTar, false, param.WithDescription("Traverse into tar files")),
	}
}

// FileDirectory emits every matching file below a data directory.
var FileDirectory = &module.Definition{
	Name:        "file_source_directory",
	Version:     1,
	Capability:  module.CapSource,
	SubGroup:    []string{module.SubGroupFile},
	OutputTypes: []object.DataType{object.TypeFile},
	Parameters:  directoryParameters(),
	NewSource: func(inst *module.Instance) (module.Source, error) {
		return &directorySource{inst: inst}, nil
	},
}

type directorySource struct {
	inst *module.Instance
}

// scanConfig resolves the instance values for one scan.
type scanConfig struct {
	local       string
	root        string
	pattern     string
	recursive   bool
	traverseTar bool
	subPath     string
}

func (s *directorySource) config(env module.Env) scanConfig {
	local := s.inst.StringValue(ParamSourceDirectory)
	return scanConfig{
		local:       local,
		root:        filepath.Join(env.DataDir, strings.TrimLeft(local, "/")),
		pattern:     s.inst.StringValue(ParamGlobPattern),
		recursive:   s.inst.BoolValue(ParamRecursive),
		traverseTar: s.inst.BoolValue(ParamTraverseTar),
		subPath:     s.inst.StringValue(module.ParamObjectSubPath),
	}
}

func sidecarSuffix(env module.Env) string {
	if env.SidecarExt == "" {
		return ""
	}
	return "." + env.SidecarExt + ".json"
}

func (s *directorySource) scan(env module.Env) (scanConfig, []string, error) {
	cfg := s.config(env)
	matches, err := scanDirectory(cfg.root, cfg.pattern, cfg.recursive, sidecarSuffix(env))
	if err != nil {
		return cfg, nil, services.Wrap(services.ErrIO, "source", "scan", cfg.local, err)
	}
	return cfg, matches, nil
}

// ObjectCount counts files, with archive members counted individually when
// archives are traversed.
func (s *directorySource) ObjectCount(ctx context.Context, env module.Env) (int, error) {
	cfg, matches, err := s.scan(env)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if cfg.traverseTar && object.IsTarFilename(rel) {
			n, err := object.CountTar(filepath.Join(cfg.root, filepath.FromSlash(rel)))
			if err != nil {
				return 0, services.Wrap(services.ErrIO, "source", "count archive", rel, err)
			}
			count += n
			continue
		}
		count++
	}
	return count, nil
}

// Objects emits files in filename order. Sharding applies to scan entries:
// an archive is one entry and all its members follow its shard.
func (s *directorySource) Objects(ctx context.Context, env module.Env, emit func(object.Object) error) error {
	cfg, matches, err := s.scan(env)
	if err != nil {
		return err
	}
	interval := max(env.Interval, 1)
	index := env.Offset
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		take := index%interval == 0
		index++
		if !take {
			continue
		}
		if cfg.traverseTar && object.IsTarFilename(rel) {
			if err := s.emitArchive(env, cfg, rel, emit); err != nil {
				return err
			}
			continue
		}
		if err := s.emitFile(env, cfg, rel, emit); err != nil {
			return err
		}
	}
	return nil
}

func dataRelative(parts ...string) string {
	return strings.TrimLeft(path.Join(parts...), "/")
}

func modTime(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

func (s *directorySource) emitFile(env module.Env, cfg scanConfig, rel string, emit func(object.Object) error) error {
	mtime, err := modTime(filepath.Join(cfg.root, filepath.FromSlash(rel)))
	if err != nil {
		return services.Wrap(services.ErrIO, "source", "stat", rel, err)
	}
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	loaded := s.inst.Action(object.ActionLoaded, map[string]any{
		"filename": dataRelative(cfg.local, rel),
		"mtime":    mtime,
	})
	file := object.NewDiskFile(
		env.DataDir,
		path.Base(rel),
		path.Join(cfg.subPath, dir),
		dataRelative(cfg.local, dir),
		[]object.Action{loaded},
	)
	return emit(file)
}

func (s *directorySource) emitArchive(env module.Env, cfg scanConfig, rel string, emit func(object.Object) error) error {
	abs := filepath.Join(cfg.root, filepath.FromSlash(rel))
	mtime, err := modTime(abs)
	if err != nil {
		return services.Wrap(services.ErrIO, "source", "stat", rel, err)
	}
	tarPath := dataRelative(cfg.local, rel)
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	tarSub := path.Join(cfg.subPath, dir, object.TarSubPath(rel))
	err = object.WalkTar(abs, env.Stub, func(member string, content []byte) error {
		member = strings.TrimLeft(path.Clean(member), "/")
		memberDir := path.Dir(member)
		if memberDir == "." {
			memberDir = ""
		}
		loaded := s.inst.Action(object.ActionLoaded, map[string]any{
			"filename": path.Join(tarPath, member),
			"mtime":    mtime,
		})
		file := object.NewTarFile(
			tarPath,
			content,
			path.Base(member),
			path.Join(tarSub, memberDir),
			path.Dir(tarPath),
			[]object.Action{loaded},
		)
		return emit(file)
	})
	if err != nil {
		return fmt.Errorf("traverse %s: %w", tarPath, err)
	}
	return nil
}
