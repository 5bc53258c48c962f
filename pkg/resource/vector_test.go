package resource_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/scheduler/pkg/resource"
)

func TestMain(m *testing.M) {
	m.Run()
}

func newDim2(t *testing.T) {
	t.Helper()
	resource.ResetForTesting()
	require.NoError(t, resource.SetDimensions(2))
}

func TestVectorFits(t *testing.T) {
	newDim2(t)

	free := resource.New(10, 5)
	require.True(t, free.Fits(resource.New(10, 5)))
	require.True(t, free.Fits(resource.New(0, 0)))
	require.False(t, free.Fits(resource.New(10.1, 5)))
	require.False(t, free.Fits(resource.New(0, 5.1)))
}

func TestVectorArithmetic(t *testing.T) {
	newDim2(t)

	a := resource.New(10, 5)
	b := resource.New(3, 7)

	require.Equal(t, resource.New(13, 12), a.Add(b))
	require.Equal(t, resource.Vector{7, -2}, a.Sub(b))
	require.Equal(t, resource.New(10, 7), a.Max(b))
	require.True(t, resource.Zero().IsZero())
	require.False(t, a.IsZero())
}

func TestSetDimensionsConflict(t *testing.T) {
	newDim2(t)
	require.Error(t, resource.SetDimensions(3))
	require.NoError(t, resource.SetDimensions(2))
}

func TestNewVectorWrongWidth(t *testing.T) {
	newDim2(t)
	require.Panics(t, func() { resource.New(1, 2, 3) })
}

func TestNewVectorNegativeComponent(t *testing.T) {
	newDim2(t)
	require.Panics(t, func() { resource.New(-1, 2) })
}
