// Package engine drives a synchronization run: it authenticates against the
// portal, enumerates disciplines, fans fetch+parse+reconcile out to a bounded
// worker pool, and produces a catalog.SyncRun summary.
//
// At most one run is active at a time. Guard enforces this locally and,
// when configured with a distributed Lock, across replicas.
package engine
