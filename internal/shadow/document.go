package shadow

import (
	"encoding/json"
	"reflect"
	"time"
)

// Document is the shadow of one thing.
type Document struct {
	Thing     string
	Version   int64
	Desired   map[string]any
	Reported  map[string]any
	UpdatedAt time.Time
}

// NewDocument returns an empty document at version 0.
func NewDocument(thing string) *Document {
	return &Document{
		Thing:    thing,
		Desired:  map[string]any{},
		Reported: map[string]any{},
	}
}

// State is the "state" object of update requests and replies.
type State struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
	Delta    map[string]any `json:"delta,omitempty"`
}

// Apply merges a state patch into the document and bumps the version.
// A key set to null is removed.
func (d *Document) Apply(patch State, at time.Time) {
	if patch.Desired != nil {
		merge(d.Desired, patch.Desired)
	}
	if patch.Reported != nil {
		merge(d.Reported, patch.Reported)
	}
	d.Version++
	d.UpdatedAt = at
}

// Delta returns the desired keys whose value differs from the reported
// one, or nil when the thing is in sync.
func (d *Document) Delta() map[string]any {
	return delta(d.Desired, d.Reported)
}

func merge(dst, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, pm)
				continue
			}
			fresh := map[string]any{}
			merge(fresh, pm)
			dst[k] = fresh
			continue
		}
		dst[k] = v
	}
}

func delta(desired, reported map[string]any) map[string]any {
	out := map[string]any{}
	for k, want := range desired {
		have, ok := reported[k]
		wm, wIsMap := want.(map[string]any)
		hm, hIsMap := have.(map[string]any)
		switch {
		case wIsMap && hIsMap:
			if sub := delta(wm, hm); sub != nil {
				out[k] = sub
			}
		case !ok || !equal(want, have):
			out[k] = want
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// equal compares two decoded JSON values, treating numbers by value
// regardless of their Go type.
func equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
