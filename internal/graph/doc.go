// Package graph runs pipelines of module instances and decides which stored
// results can be reused.
//
// A Graph partitions its modules into sources, filters and process modules.
// Items flow from every source through all filters, then through the process
// modules in order. A process module receives the items whose data type it
// accepts; the others pass by untouched. Process modules that store results,
// and always the last one, write each item below the target path together
// with a "<file>.<ext>.json" sidecar holding the item's descriptor.
//
// Before a real run under SkipExists or SkipUnchanged the graph performs a
// stub pass: the same pipeline with placeholder payloads and no writes. Its
// action chains describe what the current configuration would store and are
// compared against the sidecars on disk to decide, per source item, whether
// processing can be skipped.
package graph
