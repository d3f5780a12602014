package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/pipeline"
	"github.com/mattjoyce/hearken/internal/state"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ParsersLoaded: len(s.parsers.Loaded()),
		ParsersFailed: len(s.parsers.Failures()),
	})
}

// handleFeed handles POST /v1/audio/{event} with a raw PCM body.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")

	chunk, err := s.readChunk(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if chunk.Len() == 0 {
		s.writeError(w, http.StatusBadRequest, "empty audio body")
		return
	}

	switch event {
	case "ambient":
		err = s.feeder.Ambient(r.Context(), chunk)
	case "hotword":
		err = s.feeder.Hotword(r.Context(), chunk)
	case "speech":
		err = s.feeder.Speech(r.Context(), chunk)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown audio event %q (valid: ambient, hotword, speech, end)", event))
		return
	}
	if err != nil {
		s.writeFeedError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, FeedResponse{
		Status:     "queued",
		Event:      event,
		Bytes:      chunk.Len(),
		DurationMs: chunk.Duration().Milliseconds(),
	})
}

// handleEndUtterance handles POST /v1/audio/end. An empty body ends the
// utterance with the buffered speech audio.
func (s *Server) handleEndUtterance(w http.ResponseWriter, r *http.Request) {
	chunk, err := s.readChunk(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.feeder.EndUtterance(r.Context(), chunk)
	if err != nil && report == nil {
		s.writeFeedError(w, err)
		return
	}

	resp := UtteranceResponse{
		ID:           report.ID,
		Context:      report.Context,
		Contributors: nonNil(report.Contributors),
		Failed:       nonNil(report.Failed),
		DurationMs:   report.DurationMs,
	}
	if err != nil {
		s.logger.Warn("utterance processed with errors", "utterance_id", report.ID, "error", err)
		resp.Warning = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleParsers handles GET /v1/parsers.
func (s *Server) handleParsers(w http.ResponseWriter, r *http.Request) {
	resp := ParsersResponse{
		Loaded: []ParserInfo{},
		Failed: []ParserFailure{},
	}
	for _, inst := range s.parsers.Loaded() {
		resp.Loaded = append(resp.Loaded, ParserInfo{
			Name:     inst.Name(),
			Kind:     inst.Kind(),
			Priority: inst.Priority(),
			Source:   inst.Source(),
			State:    inst.State().String(),
		})
	}
	for name, lerr := range s.parsers.Failures() {
		resp.Failed = append(resp.Failed, ParserFailure{
			Name:  name,
			Stage: lerr.Stage,
			Error: lerr.Err.Error(),
		})
	}
	slices.SortFunc(resp.Failed, func(a, b ParserFailure) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	respondJSON(w, http.StatusOK, resp)
}

// handleListUtterances handles GET /v1/utterances?limit=N.
func (s *Server) handleListUtterances(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "utterance ledger disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	rows, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list utterances", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list utterances")
		return
	}
	out := make([]UtteranceRecord, 0, len(rows))
	for _, u := range rows {
		out = append(out, toRecord(u))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetUtterance handles GET /v1/utterances/{id}.
func (s *Server) handleGetUtterance(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "utterance ledger disabled")
		return
	}

	u, err := s.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, state.ErrUtteranceNotFound) {
			s.writeError(w, http.StatusNotFound, "utterance not found")
			return
		}
		s.logger.Error("failed to load utterance", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load utterance")
		return
	}
	respondJSON(w, http.StatusOK, toRecord(u))
}

// readChunk decodes a raw PCM body. The format defaults to 16kHz mono 16-bit
// and may be overridden with the rate, width and channels query parameters.
func (s *Server) readChunk(w http.ResponseWriter, r *http.Request) (*audio.Chunk, error) {
	format := audio.DefaultFormat()
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *int
	}{
		{"rate", &format.SampleRate},
		{"width", &format.SampleWidth},
		{"channels", &format.Channels},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", p.key)
		}
		*p.dst = n
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("audio body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return audio.NewChunk(body, format)
}

func (s *Server) writeFeedError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrClosed) {
		s.writeError(w, http.StatusServiceUnavailable, "session closed")
		return
	}
	s.logger.Error("audio feed failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func toRecord(u *state.Utterance) UtteranceRecord {
	return UtteranceRecord{
		ID:           u.ID,
		Source:       u.Source,
		AudioBytes:   u.AudioBytes,
		DurationMs:   u.DurationMs,
		Context:      u.Context,
		Contributors: nonNil(u.Contributors),
		Failed:       nonNil(u.Failed),
		CreatedAt:    u.CreatedAt.Format(time.RFC3339Nano),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
