package parser

import (
	"fmt"
	"strings"
	"sync"
)

// Factory builds a parser from its injected configuration slice.
type Factory func(spec Spec) (Parser, error)

// Registration binds a parser kind to its factory.
type Registration struct {
	Name        string
	Priority    int // zero means DefaultPriority
	Description string
	New         Factory
}

// Catalog is the build-time table of parser implementations. Registration
// order is the discovery order used to break priority ties.
type Catalog struct {
	mu      sync.RWMutex
	entries []Registration
	index   map[string]int
}

func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Register adds a parser kind. Names must be unique.
func (c *Catalog) Register(r Registration) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("registration name is required")
	}
	if r.New == nil {
		return fmt.Errorf("registration %q has no factory", r.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[r.Name]; exists {
		return fmt.Errorf("parser %q already registered", r.Name)
	}
	c.index[r.Name] = len(c.entries)
	c.entries = append(c.entries, r)
	return nil
}

// MustRegister is Register for static tables; it panics on error.
func (c *Catalog) MustRegister(r Registration) {
	if err := c.Register(r); err != nil {
		panic(err)
	}
}

// Lookup retrieves a registration by kind.
func (c *Catalog) Lookup(name string) (Registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[name]
	if !ok {
		return Registration{}, false
	}
	return c.entries[i], true
}

// All returns every registration in registration order.
func (c *Catalog) All() []Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Registration, len(c.entries))
	copy(out, c.entries)
	return out
}
