package trim

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/parser"
)

// pcm builds 16-bit mono samples; each segment is (amplitude, milliseconds).
func pcm(t *testing.T, segments ...[2]int) *audio.Chunk {
	t.Helper()
	var buf []byte
	for _, seg := range segments {
		frames := audio.DefaultSampleRate * seg[1] / 1000
		for range frames {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(int16(seg[0])))
		}
	}
	c, err := audio.NewChunk(buf, audio.DefaultFormat())
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		wantErr bool
	}{
		{name: "defaults", cfg: nil},
		{name: "custom", cfg: map[string]any{"threshold": -30.0, "frame_ms": 10}},
		{name: "zero frame", cfg: map[string]any{"frame_ms": 0}, wantErr: true},
		{name: "positive threshold", cfg: map[string]any{"threshold": 3.0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(parser.Spec{Name: Name, Config: tt.cfg})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTrimUtterance(t *testing.T) {
	p, err := New(parser.Spec{Name: Name, Config: map[string]any{"frame_ms": 20}})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		in        *audio.Chunk
		wantMs    int64
		trimmedMs int64
	}{
		{name: "leading and trailing silence", in: pcm(t, [2]int{0, 100}, [2]int{10000, 200}, [2]int{0, 60}), wantMs: 200, trimmedMs: 160},
		{name: "no silence", in: pcm(t, [2]int{10000, 100}), wantMs: 100, trimmedMs: 0},
		{name: "all silence kept", in: pcm(t, [2]int{0, 100}), wantMs: 100, trimmedMs: 0},
		{name: "empty", in: audio.MustChunk(nil, audio.DefaultFormat()), wantMs: 0, trimmedMs: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, pctx, err := p.OnUtteranceEnd(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMs, out.Duration().Milliseconds())
			assert.Equal(t, tt.trimmedMs, pctx["trimmed_ms"])
			assert.Equal(t, tt.in.Format(), out.Format())
		})
	}
}
