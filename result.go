package andersen

import (
	"fmt"
	"strings"

	"github.com/BarrensZeppelin/andersen/internal/pts"
)

// Entry is the points-to set of a single node.
type Entry struct {
	Node     NodeID
	PointsTo []NodeID
}

// Result is a view of the sets of a solver. Its queries panic with
// ErrNotSolved while the solver is not at a fixpoint, e.g. after a failed run.
type Result struct {
	Stats Stats

	solver *Solver
	store  *pts.Store
}

// PointsTo returns the objects n may point to in ascending order.
func (r *Result) PointsTo(n NodeID) []NodeID {
	r.solver.checkSolved()
	return r.store.Slice(n)
}

// MayAlias reports whether the points-to sets of a and b intersect.
func (r *Result) MayAlias(a, b NodeID) bool {
	r.solver.checkSolved()
	return r.store.Get(a).Intersects(r.store.Get(b))
}

// Dump returns all non-empty points-to sets ordered by node.
func (r *Result) Dump() []Entry {
	r.solver.checkSolved()
	return dump(r.store)
}

func dump(store *pts.Store) []Entry {
	nodes := store.Nodes()
	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{n, store.Slice(n)}
	}
	return entries
}

func (e Entry) String() string {
	objs := make([]string, len(e.PointsTo))
	for i, o := range e.PointsTo {
		objs[i] = fmt.Sprint(uint32(o))
	}
	return fmt.Sprintf("pts[%d] = {%s}", uint32(e.Node), strings.Join(objs, " "))
}

// String lists the non-empty points-to sets, one per line.
func (r *Result) String() string {
	var sb strings.Builder
	for _, e := range r.Dump() {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
