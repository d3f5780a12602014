// Package energy tracks the ambient noise floor and the energy of each
// utterance, and reports the signal to noise ratio at utterance end.
package energy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/parser"
)

const (
	Name            = "energy"
	DefaultPriority = 30
	defaultAlpha    = 0.05
)

// Registration adds the energy parser to a catalog.
func Registration() parser.Registration {
	return parser.Registration{
		Name:        Name,
		Priority:    DefaultPriority,
		Description: "ambient noise floor and utterance signal to noise ratio",
		New:         New,
	}
}

// Parser keeps an exponential moving average of ambient RMS.
type Parser struct {
	*parser.Base
	alpha float64

	mu           sync.Mutex
	floor        float64
	floorSet     bool
	speechSumSq  float64
	speechFrames int
}

func New(spec parser.Spec) (parser.Parser, error) {
	p := &Parser{Base: parser.NewBase(spec)}
	p.alpha = p.Float("alpha", defaultAlpha)
	if p.alpha <= 0 || p.alpha > 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1] (got %v)", p.alpha)
	}
	return p, nil
}

func (p *Parser) OnAmbient(_ context.Context, chunk *audio.Chunk) error {
	if chunk.Len() == 0 {
		return nil
	}
	level := chunk.RMS()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.floorSet {
		p.floor, p.floorSet = level, true
		return nil
	}
	p.floor = p.alpha*level + (1-p.alpha)*p.floor
	return nil
}

func (p *Parser) OnSpeech(_ context.Context, chunk *audio.Chunk) error {
	frames := chunk.Frames()
	if frames == 0 {
		return nil
	}
	rms := chunk.RMS()

	p.mu.Lock()
	p.speechSumSq += rms * rms * float64(frames)
	p.speechFrames += frames
	p.mu.Unlock()
	return nil
}

func (p *Parser) OnUtteranceEnd(_ context.Context, chunk *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	speech := chunk.RMS()
	if p.speechFrames > 0 {
		speech = math.Sqrt(p.speechSumSq / float64(p.speechFrames))
	}
	p.speechSumSq, p.speechFrames = 0, 0

	floorDB := audio.Decibels(p.floor)
	speechDB := audio.Decibels(speech)
	return chunk, parser.Context{
		"noise_floor":   round2(floorDB),
		"speech_energy": round2(speechDB),
		"snr_db":        round2(speechDB - floorDB),
	}, nil
}

// NoiseFloor returns the current ambient RMS estimate.
func (p *Parser) NoiseFloor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.floor
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
