package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/log"
)

const sourceCatalog = "catalog"

// Settings is the per-parser slice of the service configuration.
type Settings struct {
	Enabled  *bool
	Priority *int
	Config   map[string]any
}

// Recorder receives loader outcomes; internal/metrics implements it.
type Recorder interface {
	LoadFailed(parser, stage string)
	LoadedParsers(n int)
}

// Options configures a Loader.
type Options struct {
	// Dir, when set, is scanned for manifest.yaml files. Otherwise every
	// catalog registration is a candidate.
	Dir       string
	Blacklist []string
	Parsers   map[string]Settings
	Recorder  Recorder
	Logger    *slog.Logger
}

// Loader discovers, instantiates and caches parser instances. Each name is
// instantiated at most once per loader; Load and Get are safe to call
// repeatedly and concurrently.
type Loader struct {
	catalog   *Catalog
	bus       bus.Bus
	opts      Options
	blacklist map[string]struct{}
	logger    *slog.Logger
	group     singleflight.Group

	mu        sync.Mutex
	instances map[string]*Instance
	failures  map[string]*LoadError
}

// NewLoader creates a loader over catalog. Every instance is bound to b.
func NewLoader(catalog *Catalog, b bus.Bus, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("parser-loader")
	}
	bl := make(map[string]struct{}, len(opts.Blacklist))
	for _, name := range opts.Blacklist {
		bl[name] = struct{}{}
	}
	return &Loader{
		catalog:   catalog,
		bus:       b,
		opts:      opts,
		blacklist: bl,
		logger:    logger,
		instances: make(map[string]*Instance),
		failures:  make(map[string]*LoadError),
	}
}

// Load instantiates every discovered, non-excluded parser that is not already
// loaded and returns the loaded set. Per-parser failures are logged and
// recorded in Failures; only an unusable discovery location is returned.
func (l *Loader) Load(ctx context.Context) ([]*Instance, error) {
	cands, err := l.candidates()
	if err != nil {
		return nil, err
	}

	for seq, c := range cands {
		if err := l.excluded(c.Name); err != nil {
			l.logger.Debug("skipping parser", "parser", c.Name, "reason", err.Error())
			continue
		}
		// Failures are recorded by instantiate.
		_, _ = l.instantiate(ctx, c, seq)
	}

	loaded := l.Loaded()
	if l.opts.Recorder != nil {
		l.opts.Recorder.LoadedParsers(len(loaded))
	}
	l.logger.Info("parsers loaded", "count", len(loaded), "candidates", len(cands))
	return loaded, nil
}

// Get returns the cached instance for name, instantiating it on demand.
func (l *Loader) Get(ctx context.Context, name string) (*Instance, error) {
	if err := l.excluded(name); err != nil {
		return nil, fmt.Errorf("get parser %q: %w", name, err)
	}

	l.mu.Lock()
	inst, ok := l.instances[name]
	l.mu.Unlock()
	if ok {
		return inst, nil
	}

	cands, err := l.candidates()
	if err != nil {
		return nil, err
	}
	for seq, c := range cands {
		if c.Name == name {
			return l.instantiate(ctx, c, seq)
		}
	}
	return nil, fmt.Errorf("get parser %q: %w", name, ErrUnknownParser)
}

// Loaded returns the active instances ordered by ascending priority, ties
// broken by discovery order.
func (l *Loader) Loaded() []*Instance {
	l.mu.Lock()
	out := make([]*Instance, 0, len(l.instances))
	for _, inst := range l.instances {
		if inst.Active() {
			out = append(out, inst)
		}
	}
	l.mu.Unlock()

	slices.SortStableFunc(out, (*Instance).less)
	return out
}

// Failures returns the most recent load failure per parser name.
func (l *Loader) Failures() map[string]*LoadError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.failures)
}

// Shutdown tears down every active instance in reverse order. Failures are
// logged, never returned. Shut down instances are evicted so a later Load
// starts fresh.
func (l *Loader) Shutdown(ctx context.Context) {
	loaded := l.Loaded()
	for i := len(loaded) - 1; i >= 0; i-- {
		inst := loaded[i]
		if err := inst.transition(StateActive, StateShutdown); err != nil {
			continue
		}
		if err := Safely(func() error { return inst.parser.Shutdown(ctx) }); err != nil {
			l.logger.Error("parser shutdown failed", "parser", inst.Name(), "error", err)
		}

		l.mu.Lock()
		if l.instances[inst.Name()] == inst {
			delete(l.instances, inst.Name())
		}
		l.mu.Unlock()
	}
	l.logger.Info("parsers shut down", "count", len(loaded))
}

func (l *Loader) excluded(name string) error {
	if _, ok := l.blacklist[name]; ok {
		return ErrBlacklisted
	}
	if s, ok := l.opts.Parsers[name]; ok && s.Enabled != nil && !*s.Enabled {
		return ErrDisabled
	}
	return nil
}

func (l *Loader) candidates() ([]candidate, error) {
	if l.opts.Dir == "" {
		regs := l.catalog.All()
		out := make([]candidate, 0, len(regs))
		for _, r := range regs {
			out = append(out, candidate{
				Name:        r.Name,
				Kind:        r.Name,
				Description: r.Description,
				Source:      sourceCatalog,
			})
		}
		return out, nil
	}

	manifests, err := DiscoverManifests(l.opts.Dir, l.logger)
	if err != nil {
		return nil, fmt.Errorf("discover parsers: %w", err)
	}
	out := make([]candidate, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, candidate{
			Name:        m.Name,
			Kind:        m.Kind,
			Priority:    m.Priority,
			Description: m.Description,
			Config:      m.Config,
			Source:      m.Path,
		})
	}
	return out, nil
}

// instantiate builds, binds and initializes one parser. Concurrent calls for
// the same name share a single construction.
func (l *Loader) instantiate(ctx context.Context, c candidate, seq int) (*Instance, error) {
	v, err, _ := l.group.Do(c.Name, func() (any, error) {
		l.mu.Lock()
		if inst, ok := l.instances[c.Name]; ok {
			l.mu.Unlock()
			return inst, nil
		}
		l.mu.Unlock()

		inst, err := l.construct(ctx, c, seq)

		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			var lerr *LoadError
			if errors.As(err, &lerr) {
				l.failures[c.Name] = lerr
			}
			return nil, err
		}
		delete(l.failures, c.Name)
		l.instances[c.Name] = inst
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

func (l *Loader) construct(ctx context.Context, c candidate, seq int) (*Instance, error) {
	plog := l.logger.With("parser", c.Name, "kind", c.Kind)
	fail := func(stage string, err error) error {
		plog.Error("parser load failed", "stage", stage, "error", err)
		if l.opts.Recorder != nil {
			l.opts.Recorder.LoadFailed(c.Name, stage)
		}
		return &LoadError{Parser: c.Name, Stage: stage, Err: err}
	}

	reg, ok := l.catalog.Lookup(c.Kind)
	if !ok {
		return nil, fail(StageDiscover, fmt.Errorf("kind %q: %w", c.Kind, ErrUnknownParser))
	}

	spec := l.spec(c, reg)
	var p Parser
	err := Safely(func() error {
		var err error
		p, err = reg.New(spec)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: factory returned nil parser", ErrContractViolation)
		}
		if p.Name() != spec.Name {
			return fmt.Errorf("%w: parser reports name %q", ErrContractViolation, p.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fail(StageConstruct, err)
	}

	inst := newInstance(p, c.Kind, c.Source, seq)
	if err := Safely(func() error { p.Bind(l.bus); return nil }); err != nil {
		return nil, fail(StageBind, err)
	}
	if err := inst.transition(StateUnbound, StateBound); err != nil {
		return nil, fail(StageBind, err)
	}

	if err := Safely(func() error { return p.Initialize(ctx) }); err != nil {
		if serr := Safely(func() error { return p.Shutdown(ctx) }); serr != nil {
			plog.Warn("cleanup after failed initialize", "error", serr)
		}
		return nil, fail(StageInitialize, err)
	}
	if err := inst.transition(StateBound, StateInitialized); err != nil {
		return nil, fail(StageInitialize, err)
	}
	if err := inst.transition(StateInitialized, StateActive); err != nil {
		return nil, fail(StageInitialize, err)
	}

	plog.Info("loaded parser", "priority", p.Priority(), "source", c.Source)
	if l.bus != nil {
		l.bus.Publish(bus.TypeParserLoaded, map[string]any{
			"parser":   c.Name,
			"kind":     c.Kind,
			"priority": p.Priority(),
		})
	}
	return inst, nil
}

// spec resolves the injected configuration: configuration file settings
// override the manifest, which overrides the registration defaults.
func (l *Loader) spec(c candidate, reg Registration) Spec {
	priority := DefaultPriority
	if reg.Priority != 0 {
		priority = reg.Priority
	}
	if c.Priority != nil {
		priority = *c.Priority
	}

	cfg := maps.Clone(c.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	if s, ok := l.opts.Parsers[c.Name]; ok {
		if s.Priority != nil {
			priority = *s.Priority
		}
		maps.Copy(cfg, s.Config)
	}

	return Spec{
		Name:     c.Name,
		Kind:     c.Kind,
		Priority: priority,
		Config:   cfg,
	}
}
