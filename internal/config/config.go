package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir  string `toml:"data_dir" validate:"required"`
	StateDir string `toml:"state_dir" validate:"required"`
	LogDir   string `toml:"log_dir" validate:"required"`
	Socket   string `toml:"socket"`
}

// Pipeline contains defaults for pipeline graph runs.
type Pipeline struct {
	SidecarExtension  string `toml:"sidecar_extension" validate:"required,alphanum"`
	DefaultSkipPolicy string `toml:"default_skip_policy" validate:"oneof=never exists unchanged"`
	NumProcesses      int    `toml:"num_processes" validate:"min=0,max=256"`
}

// Scheduler contains timing for the job scheduler and worker pools.
type Scheduler struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds" validate:"min=1"`
	WorkerPollSeconds   int `toml:"worker_poll_seconds" validate:"min=1"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" validate:"oneof=console json auto"`
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
}

// Config encapsulates all configuration values for voxelpipe.
//
// Configuration sections by subsystem:
//   - Paths: data root for sources and targets, state (job database, lock,
//     socket) and log directories
//   - Pipeline: sidecar naming, default skip policy and shard count
//   - Scheduler: idle poll interval and worker dequeue timeout
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Scheduler Scheduler `toml:"scheduler"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voxelpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. Values from a
// .env file in the working directory and VOXELPIPE_* environment variables
// override the file. The returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	if value, ok := os.LookupEnv(EnvPrefix + "CONFIG"); ok && strings.TrimSpace(value) != "" {
		return resolveConfigPath(strings.TrimSpace(value))
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voxelpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. The data directory
// must already exist because sources are read from it.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "voxelpipe.db")
}

// LockPath is the scheduler single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "scheduler.lock")
}

// SocketPath is the control socket served by the server service.
func (c *Config) SocketPath() string {
	if c.Paths.Socket != "" {
		return c.Paths.Socket
	}
	return filepath.Join(c.Paths.StateDir, "voxelpipe.sock")
}

// LogPath is the log file shared by all voxelpipe services.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "voxelpipe.log")
}

// JoinDataPath resolves a data-relative path. Leading separators are ignored
// so stored paths can never escape the data root by being absolute.
func (c *Config) JoinDataPath(rel string) string {
	rel = strings.TrimLeft(rel, string(filepath.Separator))
	if rel == "" {
		return c.Paths.DataDir
	}
	return filepath.Join(c.Paths.DataDir, rel)
}

// RelativeToDataPath converts an absolute path below the data root into its
// data-relative form.
func (c *Config) RelativeToDataPath(abs string) (string, error) {
	rel, err := filepath.Rel(c.Paths.DataDir, abs)
	if err != nil {
		return "", fmt.Errorf("relative to data dir: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside data dir %q", abs, c.Paths.DataDir)
	}
	return rel, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.Socket, err = expandPath(strings.TrimSpace(c.Paths.Socket)); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	c.Pipeline.SidecarExtension = strings.Trim(strings.TrimSpace(c.Pipeline.SidecarExtension), ".")
	c.Pipeline.DefaultSkipPolicy = strings.ToLower(strings.TrimSpace(c.Pipeline.DefaultSkipPolicy))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
