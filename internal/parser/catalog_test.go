package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseFactory(spec Spec) (Parser, error) { return NewBase(spec), nil }

func TestCatalogRegister(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(Registration{Name: "b", New: baseFactory}))
	require.NoError(t, c.Register(Registration{Name: " a ", New: baseFactory}))

	assert.Error(t, c.Register(Registration{Name: "b", New: baseFactory}), "duplicate")
	assert.Error(t, c.Register(Registration{Name: "", New: baseFactory}), "empty name")
	assert.Error(t, c.Register(Registration{Name: "nofactory"}), "nil factory")

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name, "registration order is preserved")
	assert.Equal(t, "a", all[1].Name)

	_, ok := c.Lookup("a")
	assert.True(t, ok)
	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestCatalogMustRegisterPanicsOnDuplicate(t *testing.T) {
	c := NewCatalog()
	c.MustRegister(Registration{Name: "x", New: baseFactory})
	assert.Panics(t, func() { c.MustRegister(Registration{Name: "x", New: baseFactory}) })
}
