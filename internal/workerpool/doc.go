// Package workerpool runs tasks on a bounded set of workers.
//
// Pool runs Go functions on goroutines and is used for work that shares
// memory with the caller. ProcPool runs serializable requests in worker
// subprocesses that speak line-delimited JSON on stdin/stdout; Serve is the
// loop those subprocesses run. Both accept submissions without blocking,
// drain queued work on Stop(true) and signal workers to exit by closing
// their input, which the workers observe as the end of the queue.
package workerpool
