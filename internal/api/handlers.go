package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/minifc/internal/brain"
	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/journal"
)

// journalWriteTimeout bounds the journal write made by a handler.
const journalWriteTimeout = time.Second

// handleEmergencyStop holds every actuator at its cached position.
//
// Responses:
//   - 200: positions held, gate disarmed
//   - 409: the device is not running
//   - 503: no cached position or hardware unavailable; nothing was written
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeNotFound(w, "no controller on this process")
		return
	}

	err := s.controller.EmergencyStop(r.Context())
	s.recordEmergencyStop(err)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "held",
			"state":  s.controller.State(),
		})
	case errors.Is(err, controller.ErrNotStoppable):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, controller.ErrNoCachedPosition), errors.Is(err, controller.ErrHardwareUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error("emergency stop failed", "error", err)
		writeInternalError(w, "emergency stop failed: "+err.Error())
	}
}

func (s *Server) recordEmergencyStop(stopErr error) {
	if s.journal == nil {
		return
	}
	detail := map[string]any{"outcome": "held"}
	if stopErr != nil {
		detail = map[string]any{"outcome": "refused", "error": stopErr.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	err := s.journal.Record(ctx, journal.Event{
		DeviceID: s.deviceID,
		Kind:     journal.KindEmergencyStop,
		Detail:   detail,
	})
	if err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

// handleListEvents returns recent journal events, newest first.
//
// Query parameters:
//   - kind: stage_begin, stage_end, command, emergency_stop or patch
//   - since: RFC 3339 timestamp
//   - limit: 1..500, default 50
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{Kind: journal.Kind(q.Get("kind"))}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	events, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleGetShadow returns the brain's shadow document.
func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		writeNotFound(w, "no shadow service on this process")
		return
	}
	doc, err := s.shadow.Document(r.Context(), s.thing)
	if err != nil {
		s.logger.Error("loading shadow document failed", "thing", s.thing, "error", err)
		writeInternalError(w, "failed to load shadow document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleUpload stores an artefact posted by an arm.
//
// Request: multipart/form-data with a "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeNotFound(w, "uploads are not accepted by this process")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, brain.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(brain.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "upload exceeds size limit")
			return
		}
		writeBadRequest(w, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "missing required 'file' field in form data")
		return
	}
	defer file.Close()

	name, err := s.uploads.Save(header.Filename, file)
	if errors.Is(err, brain.ErrUploadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("storing upload failed", "filename", header.Filename, "error", err)
		writeInternalError(w, "failed to store upload")
		return
	}

	s.logger.Info("artefact stored", "filename", header.Filename, "stored_as", name, "size", header.Size)
	writeJSON(w, http.StatusCreated, map[string]any{
		"stored_as": name,
		"size":      header.Size,
	})
}
