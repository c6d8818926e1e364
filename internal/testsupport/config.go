package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"voxelpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Logs are written as JSON so nothing depends on the terminal.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithNumProcesses sets the shard count of pipeline runs.
func WithNumProcesses(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.NumProcesses = n
	}
}

// WithSkipPolicy sets the default skip policy.
func WithSkipPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.DefaultSkipPolicy = policy
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
