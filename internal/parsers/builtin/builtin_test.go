package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/parser"
)

func TestCatalogLoadsInPriorityOrder(t *testing.T) {
	l := parser.NewLoader(Catalog(), bus.NewHub(16), parser.Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)

	var names []string
	for _, inst := range loaded {
		names = append(names, inst.Name())
	}
	assert.Equal(t, []string{"trim", "energy", "hotword", "stats"}, names)
	assert.Empty(t, l.Failures())
}

func TestCatalogIsFresh(t *testing.T) {
	assert.NotSame(t, Catalog(), Catalog())
	assert.Len(t, Catalog().All(), 4)
}
