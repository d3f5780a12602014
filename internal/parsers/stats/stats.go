// Package stats counts the speech chunks and speech time of each utterance.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/parser"
)

const (
	Name            = "stats"
	DefaultPriority = 60
)

func Registration() parser.Registration {
	return parser.Registration{
		Name:        Name,
		Priority:    DefaultPriority,
		Description: "speech chunk and duration counters",
		New:         New,
	}
}

type Parser struct {
	*parser.Base

	mu     sync.Mutex
	chunks int
	speech time.Duration
}

func New(spec parser.Spec) (parser.Parser, error) {
	return &Parser{Base: parser.NewBase(spec)}, nil
}

func (p *Parser) OnSpeech(_ context.Context, chunk *audio.Chunk) error {
	p.mu.Lock()
	p.chunks++
	p.speech += chunk.Duration()
	p.mu.Unlock()
	return nil
}

func (p *Parser) OnUtteranceEnd(_ context.Context, chunk *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	p.mu.Lock()
	chunks, speech := p.chunks, p.speech
	p.chunks, p.speech = 0, 0
	p.mu.Unlock()

	return chunk, parser.Context{
		"speech_chunks": chunks,
		"speech_ms":     speech.Milliseconds(),
		"utterance_ms":  chunk.Duration().Milliseconds(),
	}, nil
}
