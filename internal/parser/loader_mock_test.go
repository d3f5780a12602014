package parser_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/parser/mocks"
)

func TestLoaderBindsBeforeInitialize(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := bus.NewHub(8)

	m := mocks.NewMockParser(ctrl)
	m.EXPECT().Name().Return("mocked").AnyTimes()
	m.EXPECT().Priority().Return(10).AnyTimes()
	gomock.InOrder(
		m.EXPECT().Bind(h),
		m.EXPECT().Initialize(gomock.Any()).Return(nil),
		m.EXPECT().Shutdown(gomock.Any()).Return(nil),
	)

	cat := parser.NewCatalog()
	cat.MustRegister(parser.Registration{
		Name: "mocked",
		New:  func(parser.Spec) (parser.Parser, error) { return m, nil },
	})

	l := parser.NewLoader(cat, h, parser.Options{})
	loaded, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Same(t, m, loaded[0].Parser())
	assert.Equal(t, parser.StateActive, loaded[0].State())

	l.Shutdown(context.Background())
}
