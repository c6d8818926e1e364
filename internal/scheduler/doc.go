// Package scheduler runs requested jobs one at a time.
//
// The scheduler polls the job store for the oldest requested job, hands it
// to a runner and blocks until the child process ends. A file lock in the
// state directory keeps a second scheduler from running against the same
// store. Jobs left in the started state by a crashed scheduler are marked
// failed when the loop starts.
package scheduler
