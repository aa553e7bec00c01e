package gen

import (
	"math/rand"
	"testing"

	"github.com/BarrensZeppelin/andersen/constraint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	cfg := Config{Values: 10, Bases: 3, Objects: 4, Fields: 2, Constraints: 50}

	f := File(rand.New(rand.NewSource(1)), cfg)
	assert.Len(t, f.Values, 13)
	assert.Len(t, f.Objects, 4)
	assert.Len(t, f.Constraints, 50)
	assert.Equal(t, f, File(rand.New(rand.NewSource(1)), cfg), "generation is deterministic")

	g, err := f.Build()
	require.NoError(t, err)

	// Bases are only assigned addresses.
	for _, name := range f.Values[cfg.Values:] {
		var id constraint.NodeID
		for i := 0; i < g.NumNodes(); i++ {
			if g.Name(constraint.NodeID(i)) == name {
				id = constraint.NodeID(i)
			}
		}

		for kind := constraint.Copy; kind < constraint.NumKinds; kind++ {
			if kind != constraint.Store {
				assert.Empty(t, g.InEdges(id, kind), "%s has incoming %v edges", name, kind)
			}
		}
	}

	t.Run("Shuffle", func(t *testing.T) {
		s := Shuffle(rand.New(rand.NewSource(2)), f)
		assert.ElementsMatch(t, f.Values, s.Values)
		assert.ElementsMatch(t, f.Constraints, s.Constraints)
		assert.ElementsMatch(t, f.Objects, s.Objects)
	})

	assert.Panics(t, func() { Graph(rand.New(rand.NewSource(0)), Config{}) })
}
