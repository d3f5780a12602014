// Package builtin assembles the parser kinds compiled into hearken.
package builtin

import (
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/parsers/energy"
	"github.com/mattjoyce/hearken/internal/parsers/hotword"
	"github.com/mattjoyce/hearken/internal/parsers/stats"
	"github.com/mattjoyce/hearken/internal/parsers/trim"
)

// Catalog returns a fresh catalog holding every built-in kind.
func Catalog() *parser.Catalog {
	c := parser.NewCatalog()
	for _, r := range []parser.Registration{
		trim.Registration(),
		energy.Registration(),
		hotword.Registration(),
		stats.Registration(),
	} {
		c.MustRegister(r)
	}
	return c
}
