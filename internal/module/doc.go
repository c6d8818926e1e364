// Package module defines pipeline module kinds and their configured instances.
//
// A Definition names a module, declares its capability (source, filter or
// process), the data types it consumes and produces, and its parameters. The
// Registry turns definitions into Instances, validating parameter values
// strictly for new instances and leniently for persisted ones so older
// pipeline configurations keep loading after a module's parameters change.
//
// Every action record an instance produces embeds its Snapshot, which is what
// the graph compares when deciding whether stored results are still current.
package module
