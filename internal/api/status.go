package api

import (
	"net/http"
	"runtime"
	"time"
)

// Status is the /status response.
type Status struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	DeviceID      string            `json:"device_id"`
	Kind          string            `json:"kind"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Controller    *ControllerStatus `json:"controller,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// ControllerStatus describes the stage machine and its gate.
type ControllerStatus struct {
	State             string   `json:"state"`
	Armed             bool     `json:"armed"`
	LastApplied       string   `json:"last_applied,omitempty"`
	LastCommand       string   `json:"last_command,omitempty"`
	AppliedAt         string   `json:"applied_at,omitempty"`
	Transitioned      bool     `json:"transitioned"`
	HardwareAvailable bool     `json:"hardware_available"`
	Actuators         []string `json:"actuators,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"device_id": s.deviceID,
	})
}

// handleStatus reports the process, transport and controller state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := Status{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		DeviceID:      s.deviceID,
		Kind:          s.kind,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedFrames:    s.hub.Dropped(),
		},
	}

	if s.mqtt != nil {
		status.MQTT.Connected = s.mqtt.IsConnected()
		status.MQTT.Subscriptions = s.mqtt.SubscriptionCount()
	}

	if s.controller != nil {
		cs := &ControllerStatus{State: string(s.controller.State())}
		if s.gate != nil {
			cs.Armed = s.gate.Armed()
			cs.LastApplied = string(s.gate.LastApplied())
			cs.LastCommand = string(s.gate.LastCommand())
			if at := s.gate.AppliedAt(); !at.IsZero() {
				cs.AppliedAt = at.UTC().Format(time.RFC3339Nano)
			}
			cs.Transitioned = s.gate.Transitioned()
		}
		if s.group != nil {
			cs.HardwareAvailable = s.group.Available()
			cs.Actuators = s.group.Names()
		}
		status.Controller = cs
	}

	writeJSON(w, http.StatusOK, status)
}
