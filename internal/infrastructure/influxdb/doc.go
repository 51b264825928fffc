// Package influxdb provides an optional InfluxDB telemetry sink.
//
// It wraps the official influxdb-client-go v2 library. When enabled, the
// telemetry publisher mirrors every actuator sample into the
// "actuator_telemetry" measurement and the stage machine records stage
// boundaries in "stage_event".
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteActuatorReading("sort_arm_ggd", "arm_servo_id_01",
//	    map[string]any{"present_position": 512}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched; failures are counted in Stats and
// passed to Options.OnError. Connect and Ping return their errors directly.
package influxdb
