// Package catalog defines the discipline catalog model shared by the sync
// engine, the storage backends, and the read surface: disciplines, their
// class offerings, run summaries, and the storage interfaces they flow through.
package catalog
