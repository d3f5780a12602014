package audio

import (
	"encoding/binary"
	"math"
)

// sample decodes the sample at byte offset off as a value in [-1, 1].
func (c *Chunk) sample(off int) float64 {
	switch c.format.SampleWidth {
	case 1:
		// 8-bit PCM is unsigned.
		return (float64(c.data[off]) - 128) / 128
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(c.data[off:]))) / math.MaxInt16
	case 4:
		return float64(int32(binary.LittleEndian.Uint32(c.data[off:]))) / math.MaxInt32
	}
	return 0
}

// RMS returns the root mean square amplitude across all samples, normalised to [0, 1].
func (c *Chunk) RMS() float64 {
	if c.Len() == 0 {
		return 0
	}
	return c.rmsRange(0, c.Frames())
}

// FrameRMS returns the RMS of each window of size frames.
func (c *Chunk) FrameRMS(size int) []float64 {
	if size <= 0 || c.Len() == 0 {
		return nil
	}
	frames := c.Frames()
	out := make([]float64, 0, (frames+size-1)/size)
	for start := 0; start < frames; start += size {
		out = append(out, c.rmsRange(start, min(start+size, frames)))
	}
	return out
}

func (c *Chunk) rmsRange(startFrame, endFrame int) float64 {
	width := c.format.SampleWidth
	fs := c.format.FrameSize()
	var (
		sum float64
		n   int
	)
	for off := startFrame * fs; off < endFrame*fs; off += width {
		s := c.sample(off)
		sum += s * s
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// Decibels converts a normalised amplitude to dBFS. Silence maps to -120.
func Decibels(amplitude float64) float64 {
	if amplitude <= 1e-6 {
		return -120
	}
	return 20 * math.Log10(amplitude)
}
