package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/shadow"
)

// mockShadow records acknowledgment updates.
type mockShadow struct {
	mu        sync.Mutex
	updates   []string
	callbacks []shadow.Callback
	err       error
}

func (m *mockShadow) Update(payload []byte, callback shadow.Callback, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.updates = append(m.updates, string(payload))
	m.callbacks = append(m.callbacks, callback)
	return fmt.Sprintf("tok-%d", len(m.updates)), nil
}

func newAdapter(t *testing.T, key string) (*SyncAdapter, *gate.Gate, *mockShadow, *countingLogger) {
	t.Helper()
	g := gate.New(nil)
	sh := &mockShadow{}
	logger := &countingLogger{}
	a := NewSyncAdapter(g, sh, SyncOptions{DeviceID: "sort_arm_ggd", CommandKey: key, Logger: logger})
	return a, g, sh, logger
}

func TestSync_RunAndStop(t *testing.T) {
	a, g, sh, _ := newAdapter(t, "sort_arm_cmd")

	a.HandleDelta([]byte(`{"state":{"sort_arm_cmd":"run"},"version":4}`), shadow.StatusDelta, "")
	if !g.Armed() {
		t.Fatal("gate not armed after run delta")
	}
	a.HandleDelta([]byte(`{"state":{"sort_arm_cmd":"stop"}}`), shadow.StatusDelta, "")
	if g.Armed() {
		t.Fatal("gate armed after stop delta")
	}

	want := []string{
		`{"state":{"reported":{"sort_arm_cmd":"run"}}}`,
		`{"state":{"reported":{"sort_arm_cmd":"stop"}}}`,
	}
	if len(sh.updates) != len(want) {
		t.Fatalf("acks = %v, want %v", sh.updates, want)
	}
	for i := range want {
		if sh.updates[i] != want[i] {
			t.Errorf("ack[%d] = %s, want %s", i, sh.updates[i], want[i])
		}
	}
}

func TestSync_UnknownValueIgnored(t *testing.T) {
	a, g, sh, logger := newAdapter(t, "sort_arm_cmd")
	g.Activate("run") //nolint:errcheck // known command

	for _, payload := range []string{
		`{"state":{"sort_arm_cmd":"pause"}}`,
		`{"state":{"sort_arm_cmd":1}}`,
		`{"state":{"sort_arm_cmd":null}}`,
	} {
		a.HandleDelta([]byte(payload), shadow.StatusDelta, "")
	}

	if !g.Armed() {
		t.Error("unknown command changed the gate")
	}
	if len(sh.updates) != 0 {
		t.Errorf("acknowledged %d unknown commands", len(sh.updates))
	}
	if logger.warns != 3 {
		t.Errorf("logged %d warnings, want 3", logger.warns)
	}
}

func TestSync_OtherDevicesKeysIgnored(t *testing.T) {
	a, g, sh, _ := newAdapter(t, "inv_arm_cmd")

	a.HandleDelta([]byte(`{"state":{"sort_arm_cmd":"run","convey_cmd":"run"}}`), shadow.StatusDelta, "")

	if g.Armed() || len(sh.updates) != 0 {
		t.Error("adapter reacted to another device's key")
	}
}

func TestSync_RequestTimeoutDropped(t *testing.T) {
	a, g, sh, logger := newAdapter(t, "sort_arm_cmd")

	a.HandleDelta([]byte(shadow.RequestTimeout), shadow.StatusTimeout, "tok-1")

	if g.Armed() || len(sh.updates) != 0 {
		t.Error("timeout sentinel was processed")
	}
	if logger.errorCount() != 1 {
		t.Errorf("logged %d errors, want 1", logger.errorCount())
	}
}

func TestSync_MalformedPayload(t *testing.T) {
	a, g, _, logger := newAdapter(t, "sort_arm_cmd")

	a.HandleDelta([]byte(`{"state":`), shadow.StatusDelta, "")
	a.HandleDelta([]byte(`{"version":1}`), shadow.StatusDelta, "")

	if g.Armed() {
		t.Error("malformed payload changed the gate")
	}
	if logger.warns != 1 {
		t.Errorf("logged %d warnings, want 1", logger.warns)
	}
}

// The acknowledgment's own accepted reply comes back through the same
// callback and must not trigger another acknowledgment.
func TestSync_AckReplyDoesNotStorm(t *testing.T) {
	a, _, sh, _ := newAdapter(t, "sort_arm_cmd")

	a.HandleDelta([]byte(`{"state":{"sort_arm_cmd":"run"}}`), shadow.StatusDelta, "")
	if len(sh.updates) != 1 {
		t.Fatalf("acks = %d, want 1", len(sh.updates))
	}

	reply := `{"state":{"reported":{"sort_arm_cmd":"run"}},"version":5,"clientToken":"tok-1"}`
	sh.callbacks[0]([]byte(reply), shadow.StatusAccepted, "tok-1")
	sh.callbacks[0]([]byte(shadow.RequestTimeout), shadow.StatusTimeout, "tok-1")

	if len(sh.updates) != 1 {
		t.Errorf("acks = %d after reply, want 1", len(sh.updates))
	}
}

func TestSync_AckFailureLogged(t *testing.T) {
	a, g, sh, logger := newAdapter(t, "convey_cmd")
	sh.err = errors.New("broker gone")

	a.HandleDelta([]byte(`{"state":{"convey_cmd":"run"}}`), shadow.StatusDelta, "")

	if !g.Armed() {
		t.Error("ack failure undid the command")
	}
	if logger.warns != 1 {
		t.Errorf("logged %d warnings, want 1", logger.warns)
	}
}

func TestSync_ExtraKey(t *testing.T) {
	a, g, sh, _ := newAdapter(t, "convey_cmd")

	var applied []any
	a.HandleKey("convey_reverse", func(_ context.Context, value any) (any, error) {
		if _, ok := value.(bool); !ok {
			return nil, errors.New("not a bool")
		}
		applied = append(applied, value)
		return value, nil
	})

	a.HandleDelta([]byte(`{"state":{"convey_cmd":"run","convey_reverse":true}}`), shadow.StatusDelta, "")
	a.HandleDelta([]byte(`{"state":{"convey_reverse":"sideways"}}`), shadow.StatusDelta, "")

	if !g.Armed() {
		t.Error("command key not applied alongside extra key")
	}
	if len(applied) != 1 || applied[0] != true {
		t.Errorf("applied = %v, want [true]", applied)
	}
	if len(sh.updates) != 2 || sh.updates[1] != `{"state":{"reported":{"convey_reverse":true}}}` {
		t.Errorf("acks = %v", sh.updates)
	}
}

// For any sequence of deliveries the gate equals the last recognised
// command.
func TestSync_GateFollowsLastValidDelivery(t *testing.T) {
	a, g, _, _ := newAdapter(t, "sort_arm_cmd")
	seq := []string{"run", "bogus", "stop", "stop", "run", "", "halt"}

	want := false
	for _, cmd := range seq {
		payload, _ := json.Marshal(map[string]any{"state": map[string]any{"sort_arm_cmd": cmd}}) //nolint:errcheck // static shape
		a.Handle(context.Background(), payload)
		switch cmd {
		case "run":
			want = true
		case "stop":
			want = false
		}
		if g.Armed() != want {
			t.Fatalf("after %q: Armed() = %v, want %v", cmd, g.Armed(), want)
		}
	}
}
