package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/minifc/internal/journal"
)

type mockJournal struct {
	events []journal.Event
	err    error
}

func (m *mockJournal) Record(_ context.Context, e journal.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockJournal) List(context.Context, journal.Filter) ([]journal.Event, error) {
	return m.events, nil
}

func (m *mockJournal) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

type mockStageWriter struct {
	phases []string
}

func (w *mockStageWriter) WriteStageEvent(_, stage, phase string, _ time.Time) {
	w.phases = append(w.phases, stage+":"+phase)
}

func TestSinks_ReceiveEveryEvent(t *testing.T) {
	repo := &mockJournal{}
	writer := &mockStageWriter{}
	events := NewEvents("belt_ggd", "/convey/stages", newMockPublisher(), EventsOptions{})
	events.AddSink(JournalSink(repo, nil))
	events.AddSink(InfluxSink(writer))

	events.Emit("roll", TextBegin, nil)
	events.Emit("roll", "not_reversed", map[string]any{"rolling": true})

	if len(repo.events) != 2 {
		t.Fatalf("journal recorded %d events, want 2", len(repo.events))
	}
	if repo.events[0].Kind != journal.KindStageBegin || repo.events[1].Kind != journal.KindStageEnd {
		t.Errorf("kinds = %s, %s", repo.events[0].Kind, repo.events[1].Kind)
	}
	if repo.events[1].Detail["stage_result"] == nil || repo.events[1].DeviceID != "belt_ggd" {
		t.Errorf("end event = %+v", repo.events[1])
	}
	if len(writer.phases) != 2 || writer.phases[1] != "roll:not_reversed" {
		t.Errorf("influx phases = %v", writer.phases)
	}
}

func TestJournalSink_FailureLogged(t *testing.T) {
	logger := &countingLogger{}
	sink := JournalSink(&mockJournal{err: errors.New("disk full")}, logger)

	sink(StageEvent{Stage: "home", AddlText: TextBegin, TS: time.Now().Format(time.RFC3339Nano), DeviceID: "x"})

	if logger.warns != 1 {
		t.Errorf("logged %d warnings, want 1", logger.warns)
	}
}
