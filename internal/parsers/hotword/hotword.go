// Package hotword records hotword chunks seen during an utterance and
// announces each one on the bus.
package hotword

import (
	"context"
	"sync"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/parser"
)

const (
	Name            = "hotword"
	DefaultPriority = 40

	// EventDetected is published for every hotword chunk.
	EventDetected = "parser.hotword"
)

func Registration() parser.Registration {
	return parser.Registration{
		Name:        Name,
		Priority:    DefaultPriority,
		Description: "hotword occurrences per utterance",
		New:         New,
	}
}

type Parser struct {
	*parser.Base

	mu    sync.Mutex
	count int
}

func New(spec parser.Spec) (parser.Parser, error) {
	return &Parser{Base: parser.NewBase(spec)}, nil
}

func (p *Parser) OnHotword(_ context.Context, chunk *audio.Chunk) error {
	p.mu.Lock()
	p.count++
	n := p.count
	p.mu.Unlock()

	p.Publish(EventDetected, map[string]any{
		"parser":      p.Name(),
		"count":       n,
		"bytes":       chunk.Len(),
		"duration_ms": chunk.Duration().Milliseconds(),
	})
	return nil
}

// Hotword chunks may arrive after speech has started, so the count is only
// reset once the utterance is reported.
func (p *Parser) OnUtteranceEnd(_ context.Context, chunk *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	p.mu.Lock()
	n := p.count
	p.count = 0
	p.mu.Unlock()

	return chunk, parser.Context{
		"hotword_detected": n > 0,
		"hotword_count":    n,
	}, nil
}
