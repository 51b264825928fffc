// Package api implements the local HTTP status server of a minifc process.
//
// This package provides:
//   - Health and status endpoints for the device or brain
//   - Emergency stop trigger on devices
//   - Journal queries over recent stage events and commands
//   - Shadow document and artefact upload endpoints on the brain
//   - One-way WebSocket feed of stage events and routed patches
//   - Prometheus exposition on /metrics
//   - Middleware stack (request ID, access log with panic recovery, body limit)
//
// # Architecture
//
// The server is a LAN-local side door next to the MQTT control channel.
// Nothing on it is required for the stage loop to run; the process keeps
// working if the server fails to bind.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
