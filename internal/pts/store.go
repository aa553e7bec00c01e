// Package pts stores points-to sets as sparse bit sets.
package pts

import (
	"sort"

	"github.com/BarrensZeppelin/andersen/constraint"
	"golang.org/x/tools/container/intsets"
)

// Store maps nodes to their points-to sets. Sets only grow; a node without
// an entry has the empty set.
type Store struct {
	sets map[constraint.NodeID]*intsets.Sparse
}

func NewStore() *Store {
	return &Store{sets: make(map[constraint.NodeID]*intsets.Sparse)}
}

var empty intsets.Sparse

// Get returns the points-to set of n. The result is owned by the store and
// must not be modified.
func (s *Store) Get(n constraint.NodeID) *intsets.Sparse {
	if set, found := s.sets[n]; found {
		return set
	}
	return &empty
}

func (s *Store) set(n constraint.NodeID) *intsets.Sparse {
	set, found := s.sets[n]
	if !found {
		set = new(intsets.Sparse)
		s.sets[n] = set
	}
	return set
}

// Add inserts obj into pts(n) and reports whether it was not already there.
func (s *Store) Add(n, obj constraint.NodeID) bool {
	return s.set(n).Insert(int(obj))
}

// AddAll unions objs into pts(n) and reports whether pts(n) grew.
func (s *Store) AddAll(n constraint.NodeID, objs *intsets.Sparse) bool {
	if objs.IsEmpty() {
		return false
	}
	return s.set(n).UnionWith(objs)
}

func (s *Store) Has(n, obj constraint.NodeID) bool {
	return s.Get(n).Has(int(obj))
}

func (s *Store) Len(n constraint.NodeID) int {
	return s.Get(n).Len()
}

// Slice returns the elements of pts(n) in ascending order.
func (s *Store) Slice(n constraint.NodeID) []constraint.NodeID {
	return toNodes(s.Get(n))
}

// AppendTo appends the elements of pts(n) to space in ascending order. The
// result does not alias the set, so pts(n) may grow while it is in use.
func (s *Store) AppendTo(n constraint.NodeID, space []int) []int {
	return s.Get(n).AppendTo(space)
}

// Nodes returns the nodes with a non-empty points-to set in ascending order.
func (s *Store) Nodes() []constraint.NodeID {
	nodes := make([]constraint.NodeID, 0, len(s.sets))
	for n, set := range s.sets {
		if !set.IsEmpty() {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// Size returns the total number of points-to facts.
func (s *Store) Size() int {
	size := 0
	for _, set := range s.sets {
		size += set.Len()
	}
	return size
}

func toNodes(set *intsets.Sparse) []constraint.NodeID {
	var space [16]int
	elems := set.AppendTo(space[:0])
	nodes := make([]constraint.NodeID, len(elems))
	for i, x := range elems {
		nodes[i] = constraint.NodeID(x)
	}
	return nodes
}
