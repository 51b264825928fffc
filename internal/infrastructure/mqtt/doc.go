// Package mqtt provides MQTT client connectivity for minifc devices.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Bounded-time publishing of stage events and telemetry
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) so the brain sees devices drop off
//   - Shadow topic builders and parsing
//
// # Architecture
//
// Every device process and the master brain share one broker:
//
//	arm / belt ↔ MQTT Broker ↔ brain (shadow service, router)
//
// Deliveries for one client are serialised by paho; handlers are wrapped
// with panic recovery so a bad payload can never kill a delivery goroutine.
// Publish, Subscribe and Unsubscribe wait at most mqtt.timeouts.publish for
// the broker.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Options{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.ShadowDelta("master_brain"), 1,
//	    func(topic string, payload []byte) error {
//	        return adapter.HandleDelta(payload)
//	    })
package mqtt
