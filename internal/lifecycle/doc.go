// Package lifecycle detects the optional capability hooks a service instance
// exposes (initializer, health probe, teardown) and tracks per-service state
// transitions in a side table, so instances are never mutated by the core.
package lifecycle
