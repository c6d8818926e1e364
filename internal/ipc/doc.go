// Package ipc exposes the job store and scheduler over JSON-RPC on a Unix
// domain socket and ships the matching client used by the CLI.
//
// This is the "server" service of voxelpipe: clients request, list, inspect
// and kill jobs and list the registered modules. The server reads and writes
// the job store directly, so it works with or without a scheduler in the
// same process.
package ipc
