package constraint

import (
	"sort"

	"github.com/twmb/algoimpl/go/graph"
)

// CopyCycles returns the strongly connected components of the copy subgraph
// that contain more than one node. All nodes of such a component end up with
// identical points-to sets. Each component is sorted, and components are
// ordered by their smallest node.
func (g *Graph) CopyCycles() [][]NodeID {
	cg := graph.New(graph.Directed)
	nodes := make([]graph.Node, len(g.nodes))
	for i := range nodes {
		nodes[i] = cg.MakeNode()
		*nodes[i].Value = NodeID(i)
	}

	for _, e := range g.edges {
		if e.Kind == Copy && e.Src != e.Dst {
			if err := cg.MakeEdge(nodes[e.Src], nodes[e.Dst]); err != nil {
				panic(err)
			}
		}
	}

	var cycles [][]NodeID
	for _, scc := range cg.StronglyConnectedComponents() {
		if len(scc) < 2 {
			continue
		}

		ids := make([]NodeID, len(scc))
		for i, n := range scc {
			ids[i] = (*n.Value).(NodeID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		cycles = append(cycles, ids)
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}
