package controller

import (
	"context"
	"time"

	"github.com/nerrad567/minifc/internal/journal"
)

// JournalSink records stage events in repo. Failures are logged.
func JournalSink(repo journal.Repository, logger Logger) Sink {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(ev StageEvent) {
		kind := journal.KindStageEnd
		if ev.AddlText == TextBegin {
			kind = journal.KindStageBegin
		}
		detail := map[string]any{"addl_text": ev.AddlText}
		if ev.StageResult != nil {
			detail["stage_result"] = ev.StageResult
		}
		at, _ := time.Parse(time.RFC3339Nano, ev.TS) //nolint:errcheck // zero time falls back to now

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := repo.Record(ctx, journal.Event{
			DeviceID:  ev.DeviceID,
			Kind:      kind,
			Stage:     ev.Stage,
			Detail:    detail,
			CreatedAt: at,
		})
		if err != nil {
			logger.Warn("journal write failed", "stage", ev.Stage, "error", err)
		}
	}
}

// StageWriter stores stage boundaries. *influxdb.Client satisfies it.
type StageWriter interface {
	WriteStageEvent(deviceID, stage, phase string, at time.Time)
}

// InfluxSink writes stage boundaries as points.
func InfluxSink(w StageWriter) Sink {
	return func(ev StageEvent) {
		at, err := time.Parse(time.RFC3339Nano, ev.TS)
		if err != nil {
			at = time.Now()
		}
		w.WriteStageEvent(ev.DeviceID, ev.Stage, ev.AddlText, at)
	}
}
