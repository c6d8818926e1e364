// Command voxelpipe runs and controls incremental image processing pipelines.
//
// "voxelpipe serve" starts the control socket and the job scheduler; the
// job, pipeline, modules and config commands talk to a running server or work
// on local files. The hidden run-job and worker commands are the entrypoints
// of the processes the scheduler and the preprocessing task start.
package main
