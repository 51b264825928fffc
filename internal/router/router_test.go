package router

import (
	"reflect"
	"testing"
)

var testRouter = Router{
	SortArmID: "sort_arm_ggd",
	InvArmID:  "inv_arm_ggd",
	ButtonID:  "button_ggd",
}

func button(sensor, value string) Message {
	return Message{DeviceID: "button_ggd", Data: []Reading{{SensorID: sensor, Value: value}}}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name   string
		source string
		msg    Message
		want   []Patch
	}{
		{
			name:   "green button runs everything",
			source: "button_ggd",
			msg:    button(ButtonGreen, ValueOn),
			want:   []Patch{{KeyConveyCmd: "run", KeySortArmCmd: "run", KeyInvArmCmd: "run"}},
		},
		{
			name:   "red button stops everything",
			source: "button_ggd",
			msg:    button(ButtonRed, ValueOn),
			want:   []Patch{{KeyConveyCmd: "stop", KeySortArmCmd: "stop", KeyInvArmCmd: "stop"}},
		},
		{
			name:   "white button on reverses",
			source: "button_ggd",
			msg:    button(ButtonWhite, ValueOn),
			want:   []Patch{{KeyConveyReverse: 1}},
		},
		{
			name:   "white button off forwards",
			source: "button_ggd",
			msg:    button(ButtonWhite, ValueOff),
			want:   []Patch{{KeyConveyReverse: 0}},
		},
		{
			name:   "green button released",
			source: "button_ggd",
			msg:    button(ButtonGreen, ValueOff),
		},
		{
			name:   "unknown button",
			source: "button_ggd",
			msg:    button("blue-button", ValueOn),
		},
		{
			name:   "sort arm pick begin",
			source: "sort_arm_ggd",
			msg:    Message{Stage: "pick", AddlText: "begin"},
			want:   []Patch{{KeyConveyReverse: false}},
		},
		{
			name:   "inventory arm pick begin",
			source: "inv_arm_ggd",
			msg:    Message{Stage: "pick", AddlText: "begin"},
			want:   []Patch{{KeyConveyReverse: true}},
		},
		{
			name:   "sort arm pick end",
			source: "sort_arm_ggd",
			msg:    Message{Stage: "pick", AddlText: "end"},
		},
		{
			name:   "sort arm other stage",
			source: "sort_arm_ggd",
			msg:    Message{Stage: "find", AddlText: "begin"},
		},
		{
			name:   "belt messages are ignored",
			source: "belt_ggd",
			msg:    Message{Stage: "roll", AddlText: "begin"},
		},
		{
			name:   "empty source",
			source: "",
			msg:    button(ButtonGreen, ValueOn),
		},
		{
			name:   "button with two readings",
			source: "button_ggd",
			msg: Message{Data: []Reading{
				{SensorID: ButtonWhite, Value: ValueOn},
				{SensorID: ButtonRed, Value: ValueOn},
			}},
			want: []Patch{
				{KeyConveyReverse: 1},
				{KeyConveyCmd: "stop", KeySortArmCmd: "stop", KeyInvArmCmd: "stop"},
			},
		},
		{
			name:   "non-string button value",
			source: "button_ggd",
			msg:    Message{Data: []Reading{{SensorID: ButtonGreen, Value: 1.0}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testRouter.Route(tt.source, tt.msg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	msg := button(ButtonGreen, ValueOn)
	first := testRouter.Route("button_ggd", msg)
	first[0][KeyConveyCmd] = "mutated"

	second := testRouter.Route("button_ggd", msg)
	if second[0][KeyConveyCmd] != "run" {
		t.Error("Route() returned shared state between calls")
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"data":[{"sensor_id":"green-button","value":"on"}],"ggd_id":"button_ggd"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Source() != "button_ggd" {
		t.Errorf("Source() = %q, want button_ggd", msg.Source())
	}
	if len(msg.Data) != 1 || msg.Data[0].SensorID != ButtonGreen {
		t.Errorf("Data = %+v", msg.Data)
	}

	msg, err = Decode([]byte(`{"stage":"pick","addl_text":"begin","stage_result":null,"ts":"2026-09-01T12:00:00Z","device_id":"sort_arm_ggd"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := testRouter.Route(msg.Source(), msg); len(got) != 1 {
		t.Errorf("Route(decoded stage event) = %v, want one patch", got)
	}

	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("Decode() expected error for invalid JSON")
	}
}

func TestKnown(t *testing.T) {
	for _, id := range []string{"sort_arm_ggd", "inv_arm_ggd", "button_ggd"} {
		if !testRouter.Known(id) {
			t.Errorf("Known(%q) = false", id)
		}
	}
	if testRouter.Known("belt_ggd") || testRouter.Known("") {
		t.Error("Known() accepted an unrouted source")
	}
}
