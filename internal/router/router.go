// Package router decides new desired shadow state from stage events and
// button readings.
//
// Route is a pure function of the source device and its message; it
// holds no state between calls and performs no I/O.
package router

import (
	"encoding/json"
	"fmt"
)

// Desired keys written by the router.
const (
	KeyConveyCmd     = "convey_cmd"
	KeySortArmCmd    = "sort_arm_cmd"
	KeyInvArmCmd     = "inv_arm_cmd"
	KeyConveyReverse = "convey_reverse"
)

// Button sensor ids and values.
const (
	ButtonGreen = "green-button"
	ButtonRed   = "red-button"
	ButtonWhite = "white-button"

	ValueOn  = "on"
	ValueOff = "off"
)

// Patch is a set of desired keys to merge into the shadow.
type Patch map[string]any

// Reading is one sensor sample of a button message.
type Reading struct {
	SensorID string `json:"sensor_id"`
	Value    any    `json:"value"`
}

// Message is the union of a stage event and a button message.
type Message struct {
	DeviceID string    `json:"device_id"`
	GGDID    string    `json:"ggd_id,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	AddlText string    `json:"addl_text,omitempty"`
	Data     []Reading `json:"data,omitempty"`
}

// Source returns the sending device, preferring device_id.
func (m Message) Source() string {
	if m.DeviceID != "" {
		return m.DeviceID
	}
	return m.GGDID
}

// Decode parses a bus payload into a Message.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}

// Router maps device ids to the routing rules.
type Router struct {
	SortArmID string
	InvArmID  string
	ButtonID  string
}

// Route returns the desired-state patches caused by msg from sourceID.
// Messages from unknown sources and messages no rule matches yield nil.
//
// Rules:
//   - green button on: run every device
//   - red button on: stop every device
//   - white button on/off: reverse/forward the belt
//   - sort arm pick begin: convey away from the sort arm
//   - inventory arm pick begin: convey away from the inventory arm
func (r Router) Route(sourceID string, msg Message) []Patch {
	switch sourceID {
	case "":
		return nil
	case r.ButtonID:
		var patches []Patch
		for _, reading := range msg.Data {
			if p := buttonPatch(reading); p != nil {
				patches = append(patches, p)
			}
		}
		return patches
	case r.SortArmID:
		if pickBegins(msg) {
			return []Patch{{KeyConveyReverse: false}}
		}
	case r.InvArmID:
		if pickBegins(msg) {
			return []Patch{{KeyConveyReverse: true}}
		}
	}
	return nil
}

// Known reports whether sourceID is one of the routed devices.
func (r Router) Known(sourceID string) bool {
	return sourceID != "" && (sourceID == r.ButtonID || sourceID == r.SortArmID || sourceID == r.InvArmID)
}

func pickBegins(msg Message) bool {
	return msg.Stage == "pick" && msg.AddlText == "begin"
}

func buttonPatch(reading Reading) Patch {
	value, _ := reading.Value.(string)
	switch {
	case reading.SensorID == ButtonGreen && value == ValueOn:
		return allDevices("run")
	case reading.SensorID == ButtonRed && value == ValueOn:
		return allDevices("stop")
	case reading.SensorID == ButtonWhite && value == ValueOn:
		return Patch{KeyConveyReverse: 1}
	case reading.SensorID == ButtonWhite && value == ValueOff:
		return Patch{KeyConveyReverse: 0}
	}
	return nil
}

func allDevices(cmd string) Patch {
	return Patch{
		KeyConveyCmd:  cmd,
		KeySortArmCmd: cmd,
		KeyInvArmCmd:  cmd,
	}
}
