// Package task holds the bodies of jobs. A job row names its task; the
// run-job subprocess looks the task up in a Registry and runs it under
// RunAndCatch, which turns failures and panics into exception events.
//
// The preprocessing task runs a stored pipeline configuration through the
// graph, sharding the source stream across worker processes when the
// pipeline asks for more than one, and records every produced or skipped
// object in the job store.
package task
