// Package runner executes one job in a child process.
//
// The child is the voxelpipe binary itself invoked as "run-job <uuid>" with
// the effective configuration exported as VOXELPIPE_* variables. The runner
// marks the job started, collects the child's output, polls a kill flag once
// per interval and maps the exit status onto the job's terminal status. The
// job store is the only channel between parent and child.
package runner
