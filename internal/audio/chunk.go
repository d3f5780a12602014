// Package audio defines the immutable chunk type passed from the capture layer
// through the dispatch service to every parser.
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultSampleRate  = 16000
	DefaultSampleWidth = 2
	DefaultChannels    = 1
)

var ErrFormatMismatch = errors.New("audio format mismatch")

// Format describes raw little-endian PCM.
type Format struct {
	SampleRate  int `json:"sample_rate"`
	SampleWidth int `json:"sample_width"` // bytes per sample: 1, 2 or 4
	Channels    int `json:"channels"`
}

// DefaultFormat is 16kHz mono 16-bit PCM.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, SampleWidth: DefaultSampleWidth, Channels: DefaultChannels}
}

// Validate checks that the format can be interpreted.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive (got %d)", f.SampleRate)
	}
	switch f.SampleWidth {
	case 1, 2, 4:
	default:
		return fmt.Errorf("unsupported sample width %d (valid: 1, 2, 4)", f.SampleWidth)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive (got %d)", f.Channels)
	}
	return nil
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.SampleWidth * f.Channels
}

// Chunk is an immutable buffer of audio samples plus format metadata.
// The zero value is an empty chunk with no format.
type Chunk struct {
	data   []byte
	format Format
}

// NewChunk copies data into a new chunk. Trailing bytes that do not form a
// complete frame are dropped.
func NewChunk(data []byte, format Format) (*Chunk, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	n := len(data) - len(data)%format.FrameSize()
	buf := make([]byte, n)
	copy(buf, data[:n])
	return &Chunk{data: buf, format: format}, nil
}

// MustChunk is NewChunk for static inputs; it panics on an invalid format.
func MustChunk(data []byte, format Format) *Chunk {
	c, err := NewChunk(data, format)
	if err != nil {
		panic(err)
	}
	return c
}

// Format returns the chunk's sample format.
func (c *Chunk) Format() Format {
	if c == nil {
		return Format{}
	}
	return c.format
}

// Bytes returns a copy of the raw sample data.
func (c *Chunk) Bytes() []byte {
	if c == nil {
		return nil
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Len returns the size of the sample data in bytes.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.data)
}

// Frames returns the number of complete frames in the chunk.
func (c *Chunk) Frames() int {
	if c == nil || c.format.FrameSize() == 0 {
		return 0
	}
	return len(c.data) / c.format.FrameSize()
}

// Duration returns the playback length of the chunk.
func (c *Chunk) Duration() time.Duration {
	if c == nil || c.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.format.SampleRate)
}

// Slice returns a new chunk holding frames [start, end). Bounds are clamped.
func (c *Chunk) Slice(start, end int) *Chunk {
	if c == nil {
		return &Chunk{}
	}
	frames := c.Frames()
	start = max(0, min(start, frames))
	end = max(start, min(end, frames))
	fs := c.format.FrameSize()
	buf := make([]byte, (end-start)*fs)
	copy(buf, c.data[start*fs:end*fs])
	return &Chunk{data: buf, format: c.format}
}

// WithData returns a new chunk with the same format holding a copy of data.
func (c *Chunk) WithData(data []byte) (*Chunk, error) {
	return NewChunk(data, c.Format())
}

// Append concatenates chunks sharing one format into a new chunk.
func Append(chunks ...*Chunk) (*Chunk, error) {
	var (
		format Format
		size   int
	)
	for i, c := range chunks {
		if c == nil {
			continue
		}
		if format == (Format{}) {
			format = c.format
		} else if c.format != format {
			return nil, fmt.Errorf("chunk %d: %w", i, ErrFormatMismatch)
		}
		size += len(c.data)
	}
	if format == (Format{}) {
		format = DefaultFormat()
	}
	buf := make([]byte, 0, size)
	for _, c := range chunks {
		if c != nil {
			buf = append(buf, c.data...)
		}
	}
	return &Chunk{data: buf, format: format}, nil
}
