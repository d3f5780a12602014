// Package parser defines the contract every audio parser implements and the
// loader that discovers, instantiates and caches parser instances.
//
// A parser observes the audio lifecycle of a single capture stream:
//
//   - OnAmbient receives non-speech chunks.
//   - OnHotword receives the chunk that triggered a hotword or wakeword. It is
//     NOT guaranteed to precede OnSpeech; file based sources never call it.
//   - OnSpeech receives chunks while speech is in progress, possibly partial.
//   - OnUtteranceEnd receives the complete utterance once and returns the
//     (possibly transformed) chunk plus a Context of findings.
//
// Embed *Base to inherit no-op hooks and override only what is needed.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/log"
)

// DefaultPriority is used when neither the registration, the manifest nor the
// configuration sets one. Lower priorities run first.
const DefaultPriority = 50

//go:generate mockgen -destination=mocks/mock_parser.go -package=mocks github.com/mattjoyce/hearken/internal/parser Parser

// Parser is the capability set the dispatch service drives.
type Parser interface {
	Name() string
	Priority() int

	// Bind attaches the shared messaging handle. It is called exactly once by
	// the loader before Initialize and must be idempotent.
	Bind(b bus.Bus)
	Initialize(ctx context.Context) error

	OnAmbient(ctx context.Context, chunk *audio.Chunk) error
	OnHotword(ctx context.Context, chunk *audio.Chunk) error
	OnSpeech(ctx context.Context, chunk *audio.Chunk) error
	OnUtteranceEnd(ctx context.Context, chunk *audio.Chunk) (*audio.Chunk, Context, error)

	Shutdown(ctx context.Context) error
}

// Context is auxiliary data a parser contributes at utterance end.
type Context map[string]any

// Merge copies other into c, replacing keys that already exist (last writer
// wins) and returns the result. A nil receiver allocates.
func (c Context) Merge(other Context) Context {
	if c == nil {
		c = make(Context, len(other))
	}
	maps.Copy(c, other)
	return c
}

// Clone returns a shallow copy; nil stays nil.
func (c Context) Clone() Context {
	return maps.Clone(c)
}

// Spec is the configuration slice the loader injects into a factory.
type Spec struct {
	Name     string
	Kind     string
	Priority int
	Config   map[string]any
}

// Base implements Parser with default behaviour.
type Base struct {
	name     string
	priority int
	config   map[string]any

	mu  sync.RWMutex
	bus bus.Bus
}

var _ Parser = (*Base)(nil)

// NewBase builds a Base from an injected Spec.
func NewBase(spec Spec) *Base {
	cfg := maps.Clone(spec.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &Base{
		name:     spec.Name,
		priority: spec.Priority,
		config:   cfg,
	}
}

func (b *Base) Name() string  { return b.name }
func (b *Base) Priority() int { return b.priority }

// Config returns the parser's configuration slice. Callers must not mutate it.
func (b *Base) Config() map[string]any { return b.config }

func (b *Base) Bind(h bus.Bus) {
	b.mu.Lock()
	b.bus = h
	b.mu.Unlock()
}

// Logger returns the process logger tagged with the parser name.
func (b *Base) Logger() *slog.Logger { return log.WithParser(b.name) }

// Bus returns the bound messaging handle, or nil before Bind.
func (b *Base) Bus() bus.Bus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bus
}

// Publish sends an event on the bound bus. It is a no-op before Bind.
func (b *Base) Publish(eventType string, data any) {
	if h := b.Bus(); h != nil {
		h.Publish(eventType, data)
	}
}

func (b *Base) Initialize(context.Context) error              { return nil }
func (b *Base) OnAmbient(context.Context, *audio.Chunk) error { return nil }
func (b *Base) OnHotword(context.Context, *audio.Chunk) error { return nil }
func (b *Base) OnSpeech(context.Context, *audio.Chunk) error  { return nil }
func (b *Base) Shutdown(context.Context) error                { return nil }

func (b *Base) OnUtteranceEnd(_ context.Context, chunk *audio.Chunk) (*audio.Chunk, Context, error) {
	return chunk, Context{}, nil
}

// Float reads a numeric config value.
func (b *Base) Float(key string, def float64) float64 {
	switch v := b.config[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int reads an integer config value; integral floats are accepted.
func (b *Base) Int(key string, def int) int {
	switch v := b.config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

func (b *Base) Bool(key string, def bool) bool {
	if v, ok := b.config[key].(bool); ok {
		return v
	}
	return def
}

func (b *Base) String(key string, def string) string {
	switch v := b.config[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return def
}
