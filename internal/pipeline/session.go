// Package pipeline serialises one capture stream onto the dispatch service
// and records every finished utterance.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/dispatch"
	"github.com/mattjoyce/hearken/internal/log"
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/state"
)

const (
	defaultQueueSize      = 64
	defaultMaxBufferBytes = 16 << 20 // ~8 minutes of 16kHz 16-bit mono
)

var ErrClosed = errors.New("session closed")

// Ledger stores finished utterances; *state.UtteranceStore implements it.
type Ledger interface {
	Record(ctx context.Context, u *state.Utterance) error
}

type Options struct {
	// Source is stored with every utterance, e.g. "api" or "replay".
	Source         string
	QueueSize      int
	MaxBufferBytes int
	Bus            bus.Bus
	Ledger         Ledger
	Logger         *slog.Logger
}

// Report is the outcome of one finished utterance.
type Report struct {
	ID           string         `json:"id"`
	Chunk        *audio.Chunk   `json:"-"`
	Context      parser.Context `json:"context"`
	Contributors []string       `json:"contributors"`
	Failed       []string       `json:"failed"`
	DurationMs   int64          `json:"duration_ms"`
}

type opKind int

const (
	opAmbient opKind = iota
	opHotword
	opSpeech
	opEnd
)

type op struct {
	kind  opKind
	ctx   context.Context
	chunk *audio.Chunk
	reply chan endResult
}

type endResult struct {
	report *Report
	err    error
}

// Session feeds audio events to the dispatch service from a single worker
// goroutine, so parsers observe events in the order they were submitted.
type Session struct {
	svc    *dispatch.Service
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan op
	done   chan struct{}

	// Owned by the worker.
	speech      []*audio.Chunk
	bufferBytes int
	overflowed  bool
}

// NewSession starts the worker. Close stops it.
func NewSession(svc *dispatch.Service, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxBufferBytes <= 0 {
		opts.MaxBufferBytes = defaultMaxBufferBytes
	}
	if opts.Source == "" {
		opts.Source = "api"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("pipeline")
	}

	s := &Session{
		svc:    svc,
		opts:   opts,
		logger: logger,
		ops:    make(chan op, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Ambient queues a non-speech chunk.
func (s *Session) Ambient(ctx context.Context, chunk *audio.Chunk) error {
	return s.enqueue(ctx, op{kind: opAmbient, chunk: chunk})
}

// Hotword queues a hotword chunk.
func (s *Session) Hotword(ctx context.Context, chunk *audio.Chunk) error {
	return s.enqueue(ctx, op{kind: opHotword, chunk: chunk})
}

// Speech queues an in-progress speech chunk. Speech chunks are buffered so an
// utterance can be ended without resending its audio.
func (s *Session) Speech(ctx context.Context, chunk *audio.Chunk) error {
	return s.enqueue(ctx, op{kind: opSpeech, chunk: chunk})
}

// EndUtterance waits for every queued chunk, then reduces the utterance
// through the parsers. A nil or empty chunk ends the utterance with the
// buffered speech audio.
func (s *Session) EndUtterance(ctx context.Context, chunk *audio.Chunk) (*Report, error) {
	reply := make(chan endResult, 1)
	if err := s.enqueue(ctx, op{kind: opEnd, chunk: chunk, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.report, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains queued work and stops the worker.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Session) enqueue(ctx context.Context, o op) error {
	if o.chunk == nil && o.kind != opEnd {
		return fmt.Errorf("nil chunk")
	}
	// Queued work outlives the caller's deadline; values such as trace
	// spans still flow through.
	o.ctx = context.WithoutCancel(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ops <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	defer close(s.done)
	for o := range s.ops {
		switch o.kind {
		case opAmbient:
			s.svc.FeedAmbient(o.ctx, o.chunk)
		case opHotword:
			s.svc.FeedHotword(o.ctx, o.chunk)
		case opSpeech:
			s.buffer(o.chunk)
			s.svc.FeedSpeech(o.ctx, o.chunk)
		case opEnd:
			report, err := s.finish(o.ctx, o.chunk)
			o.reply <- endResult{report: report, err: err}
		}
	}
}

func (s *Session) buffer(chunk *audio.Chunk) {
	if s.bufferBytes+chunk.Len() > s.opts.MaxBufferBytes {
		if !s.overflowed {
			s.logger.Warn("speech buffer full; dropping further audio from this utterance",
				"limit_bytes", s.opts.MaxBufferBytes)
			s.overflowed = true
		}
		return
	}
	s.speech = append(s.speech, chunk)
	s.bufferBytes += chunk.Len()
}

func (s *Session) finish(ctx context.Context, chunk *audio.Chunk) (*Report, error) {
	buffered := s.speech
	s.speech, s.bufferBytes, s.overflowed = nil, 0, false

	if chunk.Len() == 0 {
		joined, err := audio.Append(buffered...)
		if err != nil {
			return nil, fmt.Errorf("assemble utterance: %w", err)
		}
		chunk = joined
	}

	id := uuid.NewString()
	ulog := s.logger.With("utterance_id", id)

	res := s.svc.Finalize(ctx, chunk)
	report := &Report{
		ID:           id,
		Chunk:        res.Chunk,
		Context:      res.Context,
		Contributors: res.Contributors(),
		Failed:       res.Failed(),
		DurationMs:   res.Chunk.Duration().Milliseconds(),
	}

	ctxJSON, err := json.Marshal(report.Context)
	if err != nil {
		ulog.Error("utterance context is not serialisable", "error", err)
		return report, fmt.Errorf("encode utterance context: %w", err)
	}

	if s.opts.Ledger != nil {
		err := s.opts.Ledger.Record(ctx, &state.Utterance{
			ID:           id,
			Source:       s.opts.Source,
			AudioBytes:   res.Chunk.Len(),
			DurationMs:   report.DurationMs,
			Context:      ctxJSON,
			Contributors: report.Contributors,
			Failed:       report.Failed,
		})
		if err != nil {
			// The report is still valid; only persistence failed.
			ulog.Error("failed to record utterance", "error", err)
			return report, fmt.Errorf("record utterance: %w", err)
		}
	}

	if s.opts.Bus != nil {
		s.opts.Bus.Publish(bus.TypeUtteranceContext, map[string]any{
			"id":           id,
			"context":      json.RawMessage(ctxJSON),
			"contributors": report.Contributors,
			"failed":       report.Failed,
			"duration_ms":  report.DurationMs,
		})
	}
	ulog.Info("utterance finalized",
		"keys", len(report.Context),
		"contributors", len(report.Contributors),
		"failed", len(report.Failed),
	)
	return report, nil
}
