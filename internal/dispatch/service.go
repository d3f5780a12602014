package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/log"
	"github.com/mattjoyce/hearken/internal/parser"
)

const defaultMaxConcurrency = 4

// LoadedSet supplies the ordered active parsers; *parser.Loader implements it.
type LoadedSet interface {
	Loaded() []*parser.Instance
}

// Recorder receives hook and utterance measurements; internal/metrics implements it.
type Recorder interface {
	ObserveHook(parser, event string, d time.Duration, err error)
	UtteranceFinalized(keys int)
}

// Options configures a Service.
type Options struct {
	Concurrent     bool
	MaxConcurrency int

	// Bus receives parser.failed events. Optional.
	Bus      bus.Bus
	Recorder Recorder
	// Observer sees every Outcome. With Concurrent it is called from several
	// goroutines at once.
	Observer func(Outcome)
	Logger   *slog.Logger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Result is a completed utterance-end reduction.
type Result struct {
	Chunk    *audio.Chunk
	Context  parser.Context
	Outcomes []Outcome
}

// Contributors lists the parsers whose contribution was applied, in order.
func (r Result) Contributors() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Failed() {
			out = append(out, o.Parser)
		}
	}
	return out
}

// Failed lists the parsers whose contribution was discarded, in order.
func (r Result) Failed() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o.Parser)
		}
	}
	return out
}

// Service dispatches audio events to the loaded parser set.
type Service struct {
	set    LoadedSet
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

func New(set LoadedSet, opts Options) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Service{set: set, opts: opts, logger: logger, tracer: newTracer(opts.TracerProvider)}
}

// Parsers returns the current loaded set in dispatch order.
func (s *Service) Parsers() []*parser.Instance {
	return s.set.Loaded()
}

// FeedAmbient delivers a non-speech chunk to every parser.
func (s *Service) FeedAmbient(ctx context.Context, chunk *audio.Chunk) {
	s.fanOut(ctx, EventAmbient, chunk)
}

// FeedHotword delivers a hotword chunk to every parser.
func (s *Service) FeedHotword(ctx context.Context, chunk *audio.Chunk) {
	s.fanOut(ctx, EventHotword, chunk)
}

// FeedSpeech delivers an in-progress speech chunk to every parser.
func (s *Service) FeedSpeech(ctx context.Context, chunk *audio.Chunk) {
	s.fanOut(ctx, EventSpeech, chunk)
}

// GetFinalContext reduces the utterance through every parser and returns the
// final chunk and merged context.
func (s *Service) GetFinalContext(ctx context.Context, chunk *audio.Chunk) (*audio.Chunk, parser.Context) {
	res := s.Finalize(ctx, chunk)
	return res.Chunk, res.Context
}

// Finalize is GetFinalContext with per-parser outcomes.
func (s *Service) Finalize(ctx context.Context, chunk *audio.Chunk) Result {
	insts := s.set.Loaded()
	ctx, span := s.tracer.Start(ctx, "dispatch utterance_end", trace.WithAttributes(
		attribute.Int("parsers", len(insts)),
		attribute.Int("audio.bytes", chunk.Len()),
	))
	defer span.End()

	res := Result{
		Chunk:    chunk,
		Context:  parser.Context{},
		Outcomes: make([]Outcome, 0, len(insts)),
	}
	for _, inst := range insts {
		var (
			out  *audio.Chunk
			pctx parser.Context
		)
		start := time.Now()
		err := s.invoke(inst, EventUtteranceEnd, func(p parser.Parser) error {
			var err error
			out, pctx, err = p.OnUtteranceEnd(ctx, res.Chunk)
			return err
		})
		if err == nil {
			err = checkContext(pctx)
		}
		o := s.record(ctx, inst, EventUtteranceEnd, start, err)
		res.Outcomes = append(res.Outcomes, o)
		if o.Failed() {
			span.RecordError(o.Err)
			continue
		}
		if out != nil {
			res.Chunk = out
		}
		res.Context = res.Context.Merge(pctx)
	}

	if s.opts.Recorder != nil {
		s.opts.Recorder.UtteranceFinalized(len(res.Context))
	}
	span.SetAttributes(attribute.Int("context.keys", len(res.Context)))
	if failed := res.Failed(); len(failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d parser(s) failed", len(failed)))
	}
	return res
}

// checkContext rejects a context that downstream consumers cannot encode,
// such as one holding NaN, a channel or a func.
func checkContext(pctx parser.Context) error {
	if _, err := json.Marshal(pctx); err != nil {
		return fmt.Errorf("%w: context is not serialisable: %v", parser.ErrContractViolation, err)
	}
	return nil
}

func (s *Service) fanOut(ctx context.Context, ev Event, chunk *audio.Chunk) {
	insts := s.set.Loaded()
	ctx, span := s.tracer.Start(ctx, "dispatch "+string(ev), trace.WithAttributes(
		attribute.Int("parsers", len(insts)),
		attribute.Int("audio.bytes", chunk.Len()),
	))
	defer span.End()

	hook := func(p parser.Parser) error {
		switch ev {
		case EventAmbient:
			return p.OnAmbient(ctx, chunk)
		case EventHotword:
			return p.OnHotword(ctx, chunk)
		case EventSpeech:
			return p.OnSpeech(ctx, chunk)
		}
		return fmt.Errorf("unknown event %q", ev)
	}

	if !s.opts.Concurrent || len(insts) < 2 {
		for _, inst := range insts {
			start := time.Now()
			s.record(ctx, inst, ev, start, s.invoke(inst, ev, hook))
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for _, inst := range insts {
		g.Go(func() error {
			start := time.Now()
			s.record(ctx, inst, ev, start, s.invoke(inst, ev, hook))
			return nil
		})
	}
	_ = g.Wait()
}

// invoke runs one hook with lifecycle checks and panic recovery.
func (s *Service) invoke(inst *parser.Instance, ev Event, hook func(parser.Parser) error) error {
	if !inst.Active() {
		return fmt.Errorf("%w: %s hook while %s", parser.ErrContractViolation, ev, inst.State())
	}
	return parser.Safely(func() error { return hook(inst.Parser()) })
}

func (s *Service) record(ctx context.Context, inst *parser.Instance, ev Event, start time.Time, err error) Outcome {
	o := Outcome{
		Parser:   inst.Name(),
		Event:    ev,
		Duration: time.Since(start),
	}
	if err != nil {
		herr := &HookError{Parser: o.Parser, Event: ev, Err: err}
		o.Err = herr

		level := slog.LevelWarn
		var perr *parser.PanicError
		if errors.As(err, &perr) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "parser hook failed",
			"parser", o.Parser,
			"event", string(ev),
			"error", err.Error(),
		)
		if s.opts.Bus != nil {
			s.opts.Bus.Publish(bus.TypeParserFailed, map[string]any{
				"parser": o.Parser,
				"event":  string(ev),
				"error":  err.Error(),
			})
		}
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.ObserveHook(o.Parser, string(ev), o.Duration, o.Err)
	}
	if s.opts.Observer != nil {
		s.opts.Observer(o)
	}
	return o
}
