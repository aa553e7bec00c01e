package andersen

import (
	"fmt"

	"github.com/BarrensZeppelin/andersen/constraint"
	"github.com/BarrensZeppelin/andersen/internal/pts"
	"github.com/BarrensZeppelin/andersen/internal/queue"
	"github.com/pkg/errors"
)

type (
	NodeID = constraint.NodeID
	EdgeID = constraint.EdgeID
)

// Graph is the view of a constraint graph that the solver works on. It is
// implemented by *constraint.Graph.
//
// Edges point in the direction facts flow (see package constraint). The only
// mutations the solver performs are AddCopyEdge, and FieldObject, which may
// create new object nodes.
type Graph interface {
	NumNodes() int
	// Edges returns all edges in arena order.
	Edges() []constraint.Edge
	Edge(EdgeID) constraint.Edge
	InEdges(n NodeID, kind constraint.EdgeKind) []EdgeID
	OutEdges(n NodeID, kind constraint.EdgeKind) []EdgeID

	AddCopyEdge(src, dst NodeID) (EdgeID, bool)
	HasCopyEdge(src, dst NodeID) bool

	// FieldObject resolves the sub-object of obj selected by a Gep edge.
	FieldObject(obj NodeID, gep EdgeID) (NodeID, error)
}

var (
	// ErrNotSolved is the panic value when points-to sets are requested from a
	// solver that has not completed a run.
	ErrNotSolved = errors.New("points-to sets requested before the solver reached a fixpoint")

	ErrFieldObject = errors.New("unresolvable field object")
)

// FieldObjectError is returned by Run when the field object of a Gep edge
// cannot be resolved. It matches both ErrFieldObject and the cause reported by
// the graph.
type FieldObjectError struct {
	Obj  NodeID
	Edge constraint.Edge
	Err  error
}

func (e *FieldObjectError) Error() string {
	return fmt.Sprintf("%v: %v in %v: %v", ErrFieldObject, e.Obj, e.Edge, e.Err)
}

func (e *FieldObjectError) Unwrap() error        { return e.Err }
func (e *FieldObjectError) Is(target error) bool { return target == ErrFieldObject }

type AnalysisConfig struct {
	Graph Graph

	// Observer, when non-nil, is notified of every fact the solver discovers.
	Observer Observer
}

// Stats describes the work done by the latest run of a Solver.
type Stats struct {
	// Number of nodes popped from the work queue.
	Dequeues int
	// Number of copy edges synthesized for load and store constraints.
	Synthesized int
	// Total number of points-to facts.
	Facts int
}

// Solver computes the least solution of the constraints of a graph. A Solver
// is not safe for concurrent use, but solvers of distinct graphs are
// independent.
type Solver struct {
	graph    Graph
	observer Observer

	store *pts.Store
	queue queue.Queue[NodeID]

	// Number of edges of the graph that have been seeded.
	seeded int
	solved bool
	stats  Stats

	// Scratch space for points-to set snapshots.
	space []int
}

func NewSolver(config AnalysisConfig) *Solver {
	if config.Graph == nil {
		panic("andersen: no constraint graph given")
	}

	return &Solver{
		graph:    config.Graph,
		observer: config.Observer,
		store:    pts.NewStore(),
	}
}

// Analyze solves the constraints of config.Graph.
func Analyze(config AnalysisConfig) (*Result, error) {
	s := NewSolver(config)
	if err := s.Run(); err != nil {
		return nil, err
	}
	return s.Result(), nil
}

// Run propagates points-to facts until a fixpoint is reached. Running again
// only does work for edges that were added to the graph since the previous
// successful run.
func (s *Solver) Run() error {
	s.solved = false
	s.stats = Stats{}

	s.seed()

	for !s.queue.Empty() {
		p := s.queue.Pop()
		s.stats.Dequeues++

		if err := s.process(p); err != nil {
			// Leave the node scheduled, so that running again reports the same
			// error.
			s.queue.Push(p)
			return err
		}
	}

	s.seeded = len(s.graph.Edges())
	s.solved = true
	s.stats.Facts = s.store.Size()

	if s.observer != nil {
		s.observer.FixpointReached(s.stats)
	}

	return nil
}

// seed schedules the work implied by edges that have not been seen by a
// completed run. Address-of edges introduce facts directly; for other edges
// the node whose points-to set drives them is scheduled if it has any.
func (s *Solver) seed() {
	edges := s.graph.Edges()
	for _, e := range edges[s.seeded:] {
		switch e.Kind {
		case constraint.Addr:
			if s.add(e.Dst, e.Src) {
				s.queue.Push(e.Dst)
			}
		case constraint.Copy, constraint.Load, constraint.Gep:
			if s.store.Len(e.Src) != 0 {
				s.queue.Push(e.Src)
			}
		case constraint.Store:
			if s.store.Len(e.Dst) != 0 {
				s.queue.Push(e.Dst)
			}
		default:
			panic(fmt.Sprintf("unknown edge kind %d", uint8(e.Kind)))
		}
	}
}

func (s *Solver) process(p NodeID) error {
	g := s.graph

	// Snapshot, since rules below may add to pts(p).
	s.space = s.store.AppendTo(p, s.space[:0])
	objs := s.space

	for _, o := range objs {
		o := NodeID(o)

		// *p = src  ~>  o = src
		for _, eid := range g.InEdges(p, constraint.Store) {
			src := g.Edge(eid).Src
			if src != o && s.synthesize(src, o, eid) {
				s.queue.Push(src)
			}
		}

		// dst = *p  ~>  dst = o
		for _, eid := range g.OutEdges(p, constraint.Load) {
			dst := g.Edge(eid).Dst
			if o != dst && s.synthesize(o, dst, eid) {
				s.queue.Push(o)
			}
		}
	}

	for _, eid := range g.OutEdges(p, constraint.Copy) {
		dst := g.Edge(eid).Dst
		if dst != p && s.addAll(dst, p) {
			s.queue.Push(dst)
		}
	}

	for _, eid := range g.OutEdges(p, constraint.Gep) {
		dst := g.Edge(eid).Dst
		changed := false
		for _, o := range objs {
			f, err := g.FieldObject(NodeID(o), eid)
			if err != nil {
				return &FieldObjectError{Obj: NodeID(o), Edge: g.Edge(eid), Err: err}
			}
			changed = s.add(dst, f) || changed
		}
		if changed {
			s.queue.Push(dst)
		}
	}

	return nil
}

// synthesize adds the copy edge src -> dst induced by the load or store edge
// via, and reports whether it was new.
func (s *Solver) synthesize(src, dst NodeID, via EdgeID) bool {
	if s.graph.HasCopyEdge(src, dst) {
		return false
	}
	if _, added := s.graph.AddCopyEdge(src, dst); !added {
		return false
	}

	s.stats.Synthesized++
	if s.observer != nil {
		s.observer.EdgeSynthesized(src, dst, via)
	}
	return true
}

func (s *Solver) add(n, obj NodeID) bool {
	if !s.store.Add(n, obj) {
		return false
	}
	if s.observer != nil {
		s.observer.FactDiscovered(n, obj)
	}
	return true
}

// addAll adds the points-to set of src to that of dst.
func (s *Solver) addAll(dst, src NodeID) bool {
	if s.observer == nil {
		return s.store.AddAll(dst, s.store.Get(src))
	}

	changed := false
	for _, o := range s.store.Slice(src) {
		changed = s.add(dst, o) || changed
	}
	return changed
}

func (s *Solver) checkSolved() {
	if !s.solved {
		panic(ErrNotSolved)
	}
}

// PointsTo returns the objects n may point to in ascending order. It panics
// with ErrNotSolved unless Run has completed successfully.
func (s *Solver) PointsTo(n NodeID) []NodeID {
	s.checkSolved()
	return s.store.Slice(n)
}

// Dump returns all non-empty points-to sets ordered by node.
func (s *Solver) Dump() []Entry {
	s.checkSolved()
	return dump(s.store)
}

// Stats returns statistics of the latest run.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Result returns a view of the solution. Running the solver again updates
// the sets seen through the result.
func (s *Solver) Result() *Result {
	s.checkSolved()
	return &Result{Stats: s.stats, solver: s, store: s.store}
}
