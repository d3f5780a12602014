package api

import (
	"encoding/json"

	"github.com/mattjoyce/hearken/internal/parser"
)

// FeedResponse is returned by POST /v1/audio/{event}.
type FeedResponse struct {
	Status     string `json:"status"`
	Event      string `json:"event"`
	Bytes      int    `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// UtteranceResponse is returned by POST /v1/audio/end.
type UtteranceResponse struct {
	ID           string         `json:"id"`
	Context      parser.Context `json:"context"`
	Contributors []string       `json:"contributors"`
	Failed       []string       `json:"failed"`
	DurationMs   int64          `json:"duration_ms"`
	// Warning is set when the utterance was processed but not recorded.
	Warning string `json:"warning,omitempty"`
}

// ParserInfo describes one loaded parser.
type ParserInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
	State    string `json:"state"`
}

// ParserFailure describes a parser that could not be loaded.
type ParserFailure struct {
	Name  string `json:"name"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ParsersResponse is returned by GET /v1/parsers.
type ParsersResponse struct {
	Loaded []ParserInfo    `json:"loaded"`
	Failed []ParserFailure `json:"failed"`
}

// UtteranceRecord is one ledger row.
type UtteranceRecord struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	AudioBytes   int             `json:"audio_bytes"`
	DurationMs   int64           `json:"duration_ms"`
	Context      json.RawMessage `json:"context"`
	Contributors []string        `json:"contributors"`
	Failed       []string        `json:"failed"`
	CreatedAt    string          `json:"created_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ParsersLoaded int    `json:"parsers_loaded"`
	ParsersFailed int    `json:"parsers_failed"`
}
