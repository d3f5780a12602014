package parser

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type lifecycleParser struct {
	*Base
	initErr     error
	initPanic   bool
	shutdownErr error
	onShutdown  func(name string)
	initialized atomic.Bool
	shutdown    atomic.Bool
}

func (p *lifecycleParser) Initialize(context.Context) error {
	if p.Bus() == nil {
		return errors.New("initialize before bind")
	}
	if p.initPanic {
		panic("model file corrupt")
	}
	p.initialized.Store(true)
	return p.initErr
}

func (p *lifecycleParser) Shutdown(context.Context) error {
	p.shutdown.Store(true)
	if p.onShutdown != nil {
		p.onShutdown(p.Name())
	}
	return p.shutdownErr
}

type countingCatalog struct {
	*Catalog
	built sync.Map // name -> *atomic.Int32
}

func newCountingCatalog() *countingCatalog {
	return &countingCatalog{Catalog: NewCatalog()}
}

func (c *countingCatalog) add(t *testing.T, name string, priority int, mutate func(*lifecycleParser)) {
	t.Helper()
	counter := &atomic.Int32{}
	c.built.Store(name, counter)
	require.NoError(t, c.Register(Registration{
		Name:     name,
		Priority: priority,
		New: func(spec Spec) (Parser, error) {
			counter.Add(1)
			p := &lifecycleParser{Base: NewBase(spec)}
			if mutate != nil {
				mutate(p)
			}
			return p, nil
		},
	}))
}

func (c *countingCatalog) builds(name string) int32 {
	v, ok := c.built.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func names(insts []*Instance) []string {
	out := make([]string, 0, len(insts))
	for _, i := range insts {
		out = append(out, i.Name())
	}
	return out
}

func TestLoaderBlacklistScenario(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "noisy_plugin", 1, nil)
	cat.add(t, "p2", 50, nil)
	cat.add(t, "p1", 10, nil)

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{Blacklist: []string{"noisy_plugin"}})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, names(loaded))
	assert.Zero(t, cat.builds("noisy_plugin"), "blacklisted parser must never be constructed")

	_, err = l.Get(context.Background(), "noisy_plugin")
	assert.ErrorIs(t, err, ErrBlacklisted)
	assert.Zero(t, cat.builds("noisy_plugin"))
}

func TestLoaderLoadIsIdempotent(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "a", 0, nil)
	cat.add(t, "b", 0, nil)

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{})
	first, err := l.Load(context.Background())
	require.NoError(t, err)
	second, err := l.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, second, 2)
	for i := range first {
		assert.Same(t, first[i], second[i])
	}
	assert.Equal(t, int32(1), cat.builds("a"))
	assert.Equal(t, int32(1), cat.builds("b"))
}

func TestLoaderConcurrentLoadDoesNotDuplicate(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "a", 0, nil)

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{})
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Load(context.Background())
			_, _ = l.Get(context.Background(), "a")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), cat.builds("a"))
	assert.Len(t, l.Loaded(), 1)
}

func TestLoaderGetOnDemand(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "lazy", 0, nil)

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{})
	inst, err := l.Get(context.Background(), "lazy")
	require.NoError(t, err)
	assert.Equal(t, StateActive, inst.State())

	again, err := l.Get(context.Background(), "lazy")
	require.NoError(t, err)
	assert.Same(t, inst, again)

	loaded, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Same(t, inst, loaded[0])
	assert.Equal(t, int32(1), cat.builds("lazy"))

	_, err = l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownParser)
}

func TestLoaderFailureIsolation(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "ok", 0, nil)
	cat.add(t, "init_error", 0, func(p *lifecycleParser) { p.initErr = errors.New("no model") })
	cat.add(t, "init_panic", 0, func(p *lifecycleParser) { p.initPanic = true })
	require.NoError(t, cat.Register(Registration{
		Name: "factory_error",
		New:  func(Spec) (Parser, error) { return nil, errors.New("missing dependency") },
	}))
	require.NoError(t, cat.Register(Registration{
		Name: "factory_panic",
		New:  func(Spec) (Parser, error) { panic("nil map") },
	}))
	require.NoError(t, cat.Register(Registration{
		Name: "factory_nil",
		New:  func(Spec) (Parser, error) { return nil, nil },
	}))
	require.NoError(t, cat.Register(Registration{
		Name: "wrong_name",
		New: func(spec Spec) (Parser, error) {
			spec.Name = "impostor"
			return NewBase(spec), nil
		},
	}))

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err, "per-parser failures are not fatal")
	assert.Equal(t, []string{"ok"}, names(loaded))

	failures := l.Failures()
	wantStages := map[string]string{
		"init_error":    StageInitialize,
		"init_panic":    StageInitialize,
		"factory_error": StageConstruct,
		"factory_panic": StageConstruct,
		"factory_nil":   StageConstruct,
		"wrong_name":    StageConstruct,
	}
	require.Len(t, failures, len(wantStages))
	for name, stage := range wantStages {
		require.Contains(t, failures, name)
		assert.Equal(t, stage, failures[name].Stage, name)
	}

	var perr *PanicError
	assert.ErrorAs(t, failures["init_panic"], &perr)
	assert.ErrorIs(t, failures["factory_nil"], ErrContractViolation)
	assert.ErrorIs(t, failures["wrong_name"], ErrContractViolation)

	_, err = l.Get(context.Background(), "init_error")
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "init_error", lerr.Parser)
}

func TestLoaderRetriesFailedParsers(t *testing.T) {
	var attempts atomic.Int32
	cat := NewCatalog()
	require.NoError(t, cat.Register(Registration{
		Name: "flaky",
		New: func(spec Spec) (Parser, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("device busy")
			}
			return NewBase(spec), nil
		},
	}))

	l := NewLoader(cat, nil, Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.Contains(t, l.Failures(), "flaky")

	loaded, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, names(loaded))
	assert.Empty(t, l.Failures())
}

func TestLoaderPriorityOrdering(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "late", 90, nil)
	cat.add(t, "default_first", 0, nil)
	cat.add(t, "early", 5, nil)
	cat.add(t, "default_second", 0, nil)

	l := NewLoader(cat.Catalog, bus.NewHub(8), Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "default_first", "default_second", "late"}, names(loaded))
	assert.Equal(t, DefaultPriority, loaded[1].Priority())
}

func TestLoaderSettingsInjection(t *testing.T) {
	var gotSpec Spec
	cat := NewCatalog()
	require.NoError(t, cat.Register(Registration{
		Name:     "energy",
		Priority: 20,
		New: func(spec Spec) (Parser, error) {
			gotSpec = spec
			return NewBase(spec), nil
		},
	}))
	cat.MustRegister(Registration{Name: "off", New: baseFactory})

	prio := 3
	disabled := false
	l := NewLoader(cat, nil, Options{Parsers: map[string]Settings{
		"energy": {Priority: &prio, Config: map[string]any{"alpha": 0.5}},
		"off":    {Enabled: &disabled},
		"other":  {Config: map[string]any{"leak": true}},
	}})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"energy"}, names(loaded))
	assert.Equal(t, 3, gotSpec.Priority)
	assert.Equal(t, map[string]any{"alpha": 0.5}, gotSpec.Config, "only the parser's own slice is injected")

	_, err = l.Get(context.Background(), "off")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestLoaderManifestDirectory(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a", "name: kitchen\nkind: energy\npriority: 30\nconfig:\n  alpha: 0.1\n  window: 5\n")
	writeManifest(t, dir, "b", "name: hall\nkind: energy\npriority: 10\n")
	writeManifest(t, dir, "c", "name: ghost\nkind: unregistered\n")
	writeManifest(t, dir, "d", "name: noisy_plugin\nkind: energy\n")

	specs := map[string]Spec{}
	var mu sync.Mutex
	cat := NewCatalog()
	cat.MustRegister(Registration{Name: "energy", New: func(spec Spec) (Parser, error) {
		mu.Lock()
		specs[spec.Name] = spec
		mu.Unlock()
		return NewBase(spec), nil
	}})

	l := NewLoader(cat, nil, Options{
		Dir:       dir,
		Blacklist: []string{"noisy_plugin"},
		Parsers: map[string]Settings{
			"kitchen": {Config: map[string]any{"alpha": 0.2}},
		},
	})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"hall", "kitchen"}, names(loaded))
	assert.Equal(t, "energy", loaded[0].Kind())
	assert.Contains(t, loaded[0].Source(), "manifest.yaml")
	assert.Equal(t, map[string]any{"alpha": 0.2, "window": 5}, specs["kitchen"].Config)
	assert.NotContains(t, specs, "noisy_plugin")

	require.Contains(t, l.Failures(), "ghost")
	assert.Equal(t, StageDiscover, l.Failures()["ghost"].Stage)
	assert.ErrorIs(t, l.Failures()["ghost"], ErrUnknownParser)
}

func TestLoaderMissingManifestDirectory(t *testing.T) {
	l := NewLoader(NewCatalog(), nil, Options{Dir: "/nonexistent/parsers"})
	_, err := l.Load(context.Background())
	assert.Error(t, err)
}

func TestLoaderShutdown(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	cat := newCountingCatalog()
	cat.add(t, "first", 1, func(p *lifecycleParser) { p.onShutdown = record })
	cat.add(t, "second", 2, func(p *lifecycleParser) {
		p.onShutdown = record
		p.shutdownErr = errors.New("flush failed")
	})

	h := bus.NewHub(8)
	l := NewLoader(cat.Catalog, h, Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	l.Shutdown(context.Background())
	assert.Equal(t, []string{"second", "first"}, order, "reverse load order")
	for _, inst := range loaded {
		assert.Equal(t, StateShutdown, inst.State())
	}
	assert.Empty(t, l.Loaded())

	// A later Load starts fresh.
	reloaded, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	assert.NotSame(t, loaded[0], reloaded[0])
	assert.Equal(t, int32(2), cat.builds("first"))
}

func TestLoaderPublishesLoadedEvents(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "a", 0, nil)

	h := bus.NewHub(8)
	_, err := NewLoader(cat.Catalog, h, Options{}).Load(context.Background())
	require.NoError(t, err)

	events := h.SnapshotSince(0)
	require.Len(t, events, 1)
	assert.Equal(t, bus.TypeParserLoaded, events[0].Type)
}

type recorder struct {
	mu       sync.Mutex
	failures map[string]string
	loaded   int
}

func (r *recorder) LoadFailed(parser, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]string{}
	}
	r.failures[parser] = stage
}

func (r *recorder) LoadedParsers(n int) {
	r.mu.Lock()
	r.loaded = n
	r.mu.Unlock()
}

func TestLoaderRecorder(t *testing.T) {
	cat := newCountingCatalog()
	cat.add(t, "ok", 0, nil)
	cat.add(t, "bad", 0, func(p *lifecycleParser) { p.initErr = errors.New("x") })

	rec := &recorder{}
	_, err := NewLoader(cat.Catalog, bus.NewHub(8), Options{Recorder: rec}).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.loaded)
	assert.Equal(t, map[string]string{"bad": StageInitialize}, rec.failures)
}
