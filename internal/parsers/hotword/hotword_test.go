package hotword

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/parser"
)

func TestHotwordCountsAndPublishes(t *testing.T) {
	p, err := New(parser.Spec{Name: Name, Priority: DefaultPriority})
	require.NoError(t, err)

	h := bus.NewHub(8)
	p.Bind(h)
	events, cancel := h.Subscribe()
	defer cancel()

	ctx := context.Background()
	chunk := audio.MustChunk(make([]byte, 3200), audio.DefaultFormat())
	require.NoError(t, p.OnHotword(ctx, chunk))
	require.NoError(t, p.OnHotword(ctx, chunk))

	ev := <-events
	assert.Equal(t, EventDetected, ev.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "hotword", payload["parser"])
	assert.EqualValues(t, 100, payload["duration_ms"])
	assert.EqualValues(t, 1, payload["count"])

	_, pctx, err := p.OnUtteranceEnd(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, parser.Context{"hotword_detected": true, "hotword_count": 2}, pctx)

	_, pctx, err = p.OnUtteranceEnd(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, parser.Context{"hotword_detected": false, "hotword_count": 0}, pctx)
}

func TestHotwordWithoutBus(t *testing.T) {
	p, err := New(parser.Spec{Name: Name})
	require.NoError(t, err)
	assert.NoError(t, p.OnHotword(context.Background(), audio.MustChunk(nil, audio.DefaultFormat())))
}
