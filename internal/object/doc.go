// Package object models the data items that flow through a pipeline graph.
//
// Objects are immutable. Every transformation produces a new object whose
// action chain is the previous chain plus one record, and whose source is the
// descriptor of the object before its first transformation. Descriptor is
// the serialized form written to sidecar files.
package object
