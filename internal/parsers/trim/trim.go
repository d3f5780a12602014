// Package trim removes leading and trailing silence from the final utterance.
package trim

import (
	"context"
	"fmt"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/parser"
)

const (
	Name            = "trim"
	DefaultPriority = 20

	defaultThreshold = -45.0 // dBFS
	defaultFrameMs   = 20
)

func Registration() parser.Registration {
	return parser.Registration{
		Name:        Name,
		Priority:    DefaultPriority,
		Description: "trims leading and trailing silence from the utterance",
		New:         New,
	}
}

// Parser drops windows quieter than threshold from both ends of the chunk.
// It is stateless.
type Parser struct {
	*parser.Base
	threshold float64
	frameMs   int
}

func New(spec parser.Spec) (parser.Parser, error) {
	p := &Parser{Base: parser.NewBase(spec)}
	p.threshold = p.Float("threshold", defaultThreshold)
	p.frameMs = p.Int("frame_ms", defaultFrameMs)
	if p.frameMs <= 0 {
		return nil, fmt.Errorf("frame_ms must be positive (got %d)", p.frameMs)
	}
	if p.threshold > 0 {
		return nil, fmt.Errorf("threshold is in dBFS and must be <= 0 (got %v)", p.threshold)
	}
	return p, nil
}

func (p *Parser) OnUtteranceEnd(_ context.Context, chunk *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	if chunk.Len() == 0 {
		return chunk, parser.Context{"trimmed_ms": int64(0)}, nil
	}

	window := max(1, chunk.Format().SampleRate*p.frameMs/1000)
	levels := chunk.FrameRMS(window)
	first, last := -1, -1
	for i, lvl := range levels {
		if audio.Decibels(lvl) >= p.threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	// All silence: keep the utterance rather than hand on an empty chunk.
	if first < 0 {
		p.Logger().Debug("utterance below threshold, not trimmed", "threshold_dbfs", p.threshold)
		return chunk, parser.Context{"trimmed_ms": int64(0)}, nil
	}

	out := chunk.Slice(first*window, (last+1)*window)
	trimmed := chunk.Duration() - out.Duration()
	return out, parser.Context{"trimmed_ms": trimmed.Milliseconds()}, nil
}
