package dispatch

import (
	"fmt"
	"time"
)

// Event names one audio lifecycle hook.
type Event string

const (
	EventAmbient      Event = "ambient"
	EventHotword      Event = "hotword"
	EventSpeech       Event = "speech"
	EventUtteranceEnd Event = "utterance_end"
)

// HookError is a parser hook failure captured at the dispatch boundary.
type HookError struct {
	Parser string
	Event  Event
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("parser %q %s hook: %v", e.Parser, e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Outcome is the result of one hook call.
type Outcome struct {
	Parser   string
	Event    Event
	Duration time.Duration
	Err      error // nil or *HookError
}

func (o Outcome) Failed() bool { return o.Err != nil }
