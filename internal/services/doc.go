// Package services defines shared utilities consumed by the pipeline engine,
// the job tasks, and the orchestration layer.
//
// Key responsibilities:
//   - Context helpers that stamp job uuids, module uuids, shard offsets, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (validation, unknown module, I/O, cancellation) with errors.Is.
package services
