package ssagen

import (
	"sort"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/constraint"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// Program is the constraint graph of a Go program together with the mapping
// from SSA values to its nodes.
type Program struct {
	Graph     *constraint.Graph
	Reachable map[*ssa.Function]bool
	// Call graph of the statically resolved calls.
	CallGraph *callgraph.Graph
	// Number of dynamic calls, which are not resolved.
	DynamicCalls int

	values map[ssa.Value][]constraint.NodeID
	sites  map[constraint.NodeID]ssa.Value
}

// Pointer returns the node of a pointer-like value of a reachable function.
func (p *Program) Pointer(v ssa.Value) (constraint.NodeID, bool) {
	nodes := p.values[v]
	if len(nodes) != 1 || nodes[0] == noNode {
		return 0, false
	}
	return nodes[0], true
}

// Values returns the pointer-like values that have a node, ordered by node.
func (p *Program) Values() []ssa.Value {
	var res []ssa.Value
	for v := range p.values {
		if _, ok := p.Pointer(v); ok {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return p.values[res[i]][0] < p.values[res[j]][0]
	})
	return res
}

// Analyze solves the constraints of the program.
func (p *Program) Analyze(observer andersen.Observer) (*andersen.Result, error) {
	return andersen.Analyze(andersen.AnalysisConfig{Graph: p.Graph, Observer: observer})
}

// PointsTo returns the labels of the objects v may point to.
func (p *Program) PointsTo(res *andersen.Result, v ssa.Value) []Label {
	n, ok := p.Pointer(v)
	if !ok {
		return nil
	}

	var labels []Label
	for _, o := range res.PointsTo(n) {
		if l, ok := p.Label(o); ok {
			labels = append(labels, l)
		}
	}
	return labels
}
