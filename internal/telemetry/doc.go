// Package telemetry holds the time-bounded cache of last-observed
// actuator readings.
//
// Entries are keyed by (actuator, field) and expire a fixed TTL after their
// last write. An expired entry is reported as absent, never as a stale
// value, so callers such as the emergency stop can tell "no current
// reading" apart from a reading.
//
// The cache is safe for concurrent use. It gives no cross-actuator
// snapshot: two actuators read in the same telemetry tick may have been
// observed at slightly different instants.
package telemetry
