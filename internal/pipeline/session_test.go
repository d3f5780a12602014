package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/dispatch"
	"github.com/mattjoyce/hearken/internal/log"
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/parsers/builtin"
	"github.com/mattjoyce/hearken/internal/state"
	"github.com/mattjoyce/hearken/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// orderParser records the order in which hooks arrive.
type orderParser struct {
	*parser.Base
	mu     sync.Mutex
	events []string
	final  *audio.Chunk
}

func (p *orderParser) record(ev string) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *orderParser) OnAmbient(context.Context, *audio.Chunk) error { p.record("ambient"); return nil }
func (p *orderParser) OnHotword(context.Context, *audio.Chunk) error { p.record("hotword"); return nil }
func (p *orderParser) OnSpeech(context.Context, *audio.Chunk) error  { p.record("speech"); return nil }

func (p *orderParser) OnUtteranceEnd(_ context.Context, c *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	p.record("end")
	p.mu.Lock()
	p.final = c
	p.mu.Unlock()
	return c, parser.Context{"seen": true}, nil
}

func (p *orderParser) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newService(t *testing.T, h bus.Bus, extra ...parser.Parser) *dispatch.Service {
	t.Helper()
	cat := builtin.Catalog()
	for _, p := range extra {
		cat.MustRegister(parser.Registration{
			Name: p.Name(),
			New:  func(parser.Spec) (parser.Parser, error) { return p, nil },
		})
	}
	l := parser.NewLoader(cat, h, parser.Options{})
	_, err := l.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { l.Shutdown(context.Background()) })
	return dispatch.New(l, dispatch.Options{Bus: h})
}

func pcm(ms int) *audio.Chunk {
	// 16kHz mono 16-bit: 32 bytes per millisecond.
	buf := make([]byte, ms*32)
	for i := 0; i < len(buf); i += 2 {
		buf[i+1] = 0x40 // loud enough to survive trimming
	}
	return audio.MustChunk(buf, audio.DefaultFormat())
}

type memLedger struct {
	mu   sync.Mutex
	rows []*state.Utterance
	err  error
}

func (l *memLedger) Record(_ context.Context, u *state.Utterance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.rows = append(l.rows, u)
	return nil
}

func TestSessionPreservesOrder(t *testing.T) {
	rec := &orderParser{Base: parser.NewBase(parser.Spec{Name: "order", Priority: 99})}
	s := NewSession(newService(t, nil, rec), Options{})
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Ambient(ctx, pcm(10)))
	require.NoError(t, s.Hotword(ctx, pcm(10)))
	for range 5 {
		require.NoError(t, s.Speech(ctx, pcm(20)))
	}
	report, err := s.EndUtterance(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ambient", "hotword", "speech", "speech", "speech", "speech", "speech", "end"}, rec.snapshot())
	assert.Equal(t, int64(100), report.DurationMs, "buffered speech forms the utterance")
	assert.Equal(t, 5, report.Context["speech_chunks"])
	assert.Equal(t, true, report.Context["hotword_detected"])
	assert.Equal(t, true, report.Context["seen"])
	assert.Equal(t, []string{"trim", "energy", "hotword", "stats", "order"}, report.Contributors)
	assert.Empty(t, report.Failed)
}

func TestSessionExplicitChunkAndBufferReset(t *testing.T) {
	rec := &orderParser{Base: parser.NewBase(parser.Spec{Name: "order", Priority: 99})}
	s := NewSession(newService(t, nil, rec), Options{})
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Speech(ctx, pcm(40)))
	explicit := pcm(60)
	report, err := s.EndUtterance(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, int64(60), report.DurationMs)

	// The buffer was cleared by the previous end.
	report, err = s.EndUtterance(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.DurationMs)
	assert.NotEqual(t, "", report.ID)
}

func TestSessionRecordsAndPublishes(t *testing.T) {
	h := bus.NewHub(32)
	events, cancel := h.Subscribe()
	defer cancel()

	ledger := &memLedger{}
	s := NewSession(newService(t, h), Options{Bus: h, Ledger: ledger, Source: "replay"})
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Speech(ctx, pcm(20)))
	report, err := s.EndUtterance(ctx, nil)
	require.NoError(t, err)

	require.Len(t, ledger.rows, 1)
	row := ledger.rows[0]
	assert.Equal(t, report.ID, row.ID)
	assert.Equal(t, "replay", row.Source)
	assert.Equal(t, report.Contributors, row.Contributors)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(row.Context, &stored))
	assert.EqualValues(t, 1, stored["speech_chunks"])

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != bus.TypeUtteranceContext {
				continue
			}
			var payload map[string]any
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			assert.Equal(t, report.ID, payload["id"])
			return
		case <-deadline:
			t.Fatal("utterance.context event not published")
		}
	}
}

func TestSessionLedgerFailureStillReports(t *testing.T) {
	ledger := &memLedger{err: errors.New("disk full")}
	s := NewSession(newService(t, nil), Options{Ledger: ledger})
	defer s.Close()

	report, err := s.EndUtterance(context.Background(), pcm(20))
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Contains(t, report.Contributors, "stats")
}

func TestSessionWithSQLiteLedger(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "hearken.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := state.NewUtteranceStore(db)

	s := NewSession(newService(t, nil), Options{Ledger: store})
	defer s.Close()

	report, err := s.EndUtterance(context.Background(), pcm(50))
	require.NoError(t, err)

	got, err := store.Get(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.DurationMs)
	assert.Equal(t, "api", got.Source)
}

// nanParser contributes a context that cannot be encoded as JSON.
type nanParser struct {
	*parser.Base
}

func (p *nanParser) OnUtteranceEnd(_ context.Context, c *audio.Chunk) (*audio.Chunk, parser.Context, error) {
	return c, parser.Context{"score": math.NaN()}, nil
}

func TestSessionUnserialisableContextOnlyDropsOffender(t *testing.T) {
	h := bus.NewHub(64)
	events, cancel := h.Subscribe()
	defer cancel()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "hearken.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := state.NewUtteranceStore(db)

	bad := &nanParser{Base: parser.NewBase(parser.Spec{Name: "bad", Priority: 99})}
	s := NewSession(newService(t, h, bad), Options{Bus: h, Ledger: store})
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Speech(ctx, pcm(20)))
	report, err := s.EndUtterance(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"trim", "energy", "hotword", "stats"}, report.Contributors)
	assert.Equal(t, []string{"bad"}, report.Failed)
	assert.NotContains(t, report.Context, "score")
	assert.Equal(t, 1, report.Context["speech_chunks"])

	got, err := store.Get(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, got.Failed)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != bus.TypeUtteranceContext {
				continue
			}
			var payload struct {
				ID     string   `json:"id"`
				Failed []string `json:"failed"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			assert.Equal(t, report.ID, payload.ID)
			assert.Equal(t, []string{"bad"}, payload.Failed)
			return
		case <-deadline:
			t.Fatal("utterance.context event not published")
		}
	}
}

func TestSessionBufferLimit(t *testing.T) {
	s := NewSession(newService(t, nil), Options{MaxBufferBytes: 64 * 32})
	defer s.Close()

	ctx := context.Background()
	for range 4 {
		require.NoError(t, s.Speech(ctx, pcm(20)))
	}
	report, err := s.EndUtterance(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(60), report.DurationMs, "chunks past the limit are not buffered")
	assert.Equal(t, 4, report.Context["speech_chunks"], "parsers still see every chunk")
}

func TestSessionClosed(t *testing.T) {
	s := NewSession(newService(t, nil), Options{})
	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Speech(context.Background(), pcm(10)), ErrClosed)
	_, err := s.EndUtterance(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionRejectsNilFeed(t *testing.T) {
	s := NewSession(newService(t, nil), Options{})
	defer s.Close()
	assert.Error(t, s.Ambient(context.Background(), nil))
}
