// Package registry holds the per-run metric registry: named counter and gauge
// families whose series are keyed by label set.
//
// A Registry is created for one run, populated by the domain adapters, gathered
// once into prometheus client_model families and then dropped. Nothing in this
// package performs I/O or logs.
//
// Counters only accept non-negative finite deltas; gauges are last-write-wins.
// Declaring a name twice with the same kind returns the existing family,
// declaring it with a different kind fails with ErrKindConflict.
package registry
