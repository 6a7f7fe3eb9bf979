// Package storage persists the probe log.
//
// The log is append-only in normal operation: the scheduler appends one
// record per probe and readers take a snapshot of the whole sequence.
// Retention pruning is the only path that removes records.
package storage
