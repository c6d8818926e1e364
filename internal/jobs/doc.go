// Package jobs persists pipeline runs, their event log and the objects they
// report in SQLite.
//
// The Store is the only channel between a job subprocess and the scheduler:
// the subprocess appends events and object records while it runs, the
// scheduler reads job rows to pick the next requested run and to observe
// terminal status. Nothing is cached in memory; every read goes to the
// database.
//
// Identifiers are prefixed uuids ("p-" jobs, "e-" events, "o-" objects).
// Schema changes bump schemaVersion; users delete the database to adopt the
// new schema.
package jobs
