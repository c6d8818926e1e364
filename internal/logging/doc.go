// Package logging assembles structured slog loggers used by every voxelpipe
// process.
//
// The scheduler, the job runner child and the worker processes all build their
// logger through NewFromConfig so terminal output and the shared log file
// carry the same fields. Context helpers tag lines with the job uuid, the
// module being run and the shard offset of the current graph run.
package logging
