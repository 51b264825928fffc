// Package controller runs a device: the staged control loop, the
// telemetry loop and the adapter that turns shadow deltas into gate
// commands.
//
// # Concurrency
//
// Three goroutines touch a device's state:
//
//	Controller.Run          reads the gate each cycle, drives stages
//	TelemetryPublisher.Run  reads every actuator, refreshes the cache
//	SyncAdapter (MQTT)      writes the gate, acknowledges commands
//
// They share the *hardware.Group (and its telemetry cache) and the
// *gate.Gate; nothing else. A command takes effect at the next cycle
// boundary, or at the next inner iteration of a stage that polls the
// gate itself.
//
// # Stop Paths
//
// When a pass finds the gate disarmed it calls Stop, which runs the
// device's Halt once and is a no-op from stopped or initialized.
// EmergencyStop commands every actuator to hold its cached position and
// refuses to write anything if any position is missing.
package controller
