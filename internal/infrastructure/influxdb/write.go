package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementActuator = "actuator_telemetry"
	MeasurementStage    = "stage_event"
)

// WriteActuatorReading records one actuator sample.
//
// Absent fields (expired or never read) are simply left out of the point,
// so InfluxDB never stores a stale value in place of an unknown one.
//
// Parameters:
//   - deviceID: Device that owns the actuator (e.g. "sort_arm_ggd")
//   - sensorID: Telemetry sensor id (e.g. "arm_servo_id_01")
//   - fields: Present readings keyed by field name
//   - at: Sample time
func (c *Client) WriteActuatorReading(deviceID, sensorID string, fields map[string]any, at time.Time) {
	if p := actuatorPoint(deviceID, sensorID, fields, at); p != nil {
		c.write(p)
	}
}

// WriteStageEvent records a stage boundary.
func (c *Client) WriteStageEvent(deviceID, stage, phase string, at time.Time) {
	c.write(stagePoint(deviceID, stage, phase, at))
}

// write queues p, or counts it as dropped once the sink is closed.
func (c *Client) write(p *write.Point) {
	if c.writeAPI == nil || c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(p)
	c.queued.Add(1)
}

// actuatorPoint builds the point for one actuator sample, or nil when no
// field carries a value.
func actuatorPoint(deviceID, sensorID string, fields map[string]any, at time.Time) *write.Point {
	present := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			continue
		case bool:
			present[k] = val
		case int:
			present[k] = int64(val)
		default:
			present[k] = val
		}
	}
	if len(present) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementActuator,
		map[string]string{
			"device_id": deviceID,
			"sensor_id": sensorID,
		},
		present,
		at,
	)
}

func stagePoint(deviceID, stage, phase string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementStage,
		map[string]string{
			"device_id": deviceID,
			"stage":     stage,
		},
		map[string]any{
			"phase": phase,
		},
		at,
	)
}
