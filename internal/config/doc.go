// Package config loads, normalizes, and validates voxelpipe configuration.
//
// Values come from repository defaults, then a TOML file, then a .env file in
// the working directory, then VOXELPIPE_* environment variables. Paths are
// expanded (including tilde shortcuts) before validation so every consumer
// receives absolute directories.
//
// Child processes spawned by the runner and the worker pool receive the
// parent's effective settings through Config.Environ.
package config
