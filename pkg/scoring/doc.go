// Package scoring computes per-participant Stop/Value/Repeat signals from
// immutable discussion snapshots and aggregates them concurrently with a
// shared deadline. Each scorer owns its private history; the engine owns the
// fan-out, the deadline, and partial-failure handling.
package scoring
