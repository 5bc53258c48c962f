package trait_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/scheduler/pkg/trait"
)

func TestSetInheritanceAndRemoval(t *testing.T) {
	const (
		traitA trait.Mask = 1 << 0
		traitX trait.Mask = 1 << 2
		traitY trait.Mask = 1 << 3
		traitZ trait.Mask = 1 << 4
	)

	a := trait.NewSet(traitA)
	require.True(t, a.Has(traitA))

	a.Add("xy", traitX|traitY)
	require.True(t, a.Has(traitA))
	require.True(t, a.Has(traitX))
	require.True(t, a.Has(traitY))

	a.Add("xz", traitX|traitZ)
	require.True(t, a.Has(traitX))
	require.True(t, a.Has(traitY))
	require.True(t, a.Has(traitZ))

	a.Remove("xy")
	require.True(t, a.Has(traitX))
	require.False(t, a.Has(traitY))
	require.True(t, a.Has(traitZ))

	a.Remove("xz")
	require.False(t, a.Has(traitX))
	require.False(t, a.Has(traitY))
	require.False(t, a.Has(traitZ))
}

func TestSetSatisfies(t *testing.T) {
	s := trait.NewSet(0b0101)
	require.True(t, s.Satisfies(0b0001))
	require.True(t, s.Satisfies(0b0100))
	require.False(t, s.Satisfies(0b0010))
}
