// Package constraint implements the constraint graph consumed by the points-to
// solver. Nodes and edges live in arenas and are addressed by small integer
// ids, so that clients never hold references into the graph.
//
// Edges point in the direction facts flow:
//
//	Addr   p = &o     o -> p
//	Copy   d = s      s -> d
//	Load   d = *p     p -> d
//	Store  *p = s     s -> p
//	Gep    d = &p->f  p -> d
package constraint

import (
	"fmt"
	"strings"
)

// NodeID identifies a node of a Graph.
type NodeID uint32

func (n NodeID) String() string {
	return fmt.Sprintf("n%d", uint32(n))
}

// EdgeID identifies an edge of a Graph.
type EdgeID uint32

// EdgeKind is the closed set of constraint kinds. Every switch over an
// EdgeKind handles all NumKinds cases and panics on anything else.
type EdgeKind uint8

const (
	Addr EdgeKind = iota
	Copy
	Load
	Store
	Gep

	NumKinds
)

func (k EdgeKind) String() string {
	switch k {
	case Addr:
		return "addr"
	case Copy:
		return "copy"
	case Load:
		return "load"
	case Store:
		return "store"
	case Gep:
		return "gep"
	default:
		panic(fmt.Sprintf("unknown edge kind %d", uint8(k)))
	}
}

// Edge is an immutable constraint between two nodes.
type Edge struct {
	Kind     EdgeKind
	Src, Dst NodeID

	// Offset and Field select the sub-object of a Gep edge. Offset is either
	// a non-negative field index or Element.
	Offset int
	Field  string
}

// Format renders e as the statement it encodes, naming nodes with name.
func (e Edge) Format(name func(NodeID) string) string {
	switch e.Kind {
	case Addr:
		return fmt.Sprintf("%s = &%s", name(e.Dst), name(e.Src))
	case Copy:
		return fmt.Sprintf("%s = %s", name(e.Dst), name(e.Src))
	case Load:
		return fmt.Sprintf("%s = *%s", name(e.Dst), name(e.Src))
	case Store:
		return fmt.Sprintf("*%s = %s", name(e.Dst), name(e.Src))
	case Gep:
		if e.Offset == Element {
			return fmt.Sprintf("%s = &%s[*]", name(e.Dst), name(e.Src))
		}
		return fmt.Sprintf("%s = &%s->%d", name(e.Dst), name(e.Src), e.Offset)
	default:
		panic(fmt.Sprintf("unknown edge kind %d", uint8(e.Kind)))
	}
}

func (e Edge) String() string {
	return e.Format(NodeID.String)
}

type nodePair struct{ src, dst NodeID }

// Graph is a constraint graph. It is not safe for concurrent use.
type Graph struct {
	nodes []*Node
	edges []Edge

	// Index of copy edges, so that no (src, dst) pair is ever connected twice.
	copies map[nodePair]EdgeID
	// Memoized field objects.
	fields map[fieldKey]NodeID

	// MaxFieldOffset bounds the offsets of field objects derived from objects
	// that do not declare their number of fields.
	MaxFieldOffset int
	// MaxFieldDepth bounds the number of derivations separating an object
	// from the declared object it originates from.
	MaxFieldDepth int
}

// Defaults of a graph returned by New.
const (
	DefaultMaxFieldOffset = 1024
	DefaultMaxFieldDepth  = 16
)

func New() *Graph {
	return &Graph{
		copies:         make(map[nodePair]EdgeID),
		fields:         make(map[fieldKey]NodeID),
		MaxFieldOffset: DefaultMaxFieldOffset,
		MaxFieldDepth:  DefaultMaxFieldDepth,
	}
}

func (g *Graph) addNode(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.ID
}

// NewValue adds a node for a pointer-carrying program variable.
func (g *Graph) NewValue(name string) NodeID {
	return g.addNode(&Node{Kind: ValueNode, Name: name})
}

// NewObject adds an abstract memory object. If fields is positive, field
// objects may only be derived for offsets below it.
func (g *Graph) NewObject(name string, fields int) NodeID {
	return g.addNode(&Node{Kind: ObjectNode, Name: name, Fields: fields})
}

func (g *Graph) NumNodes() int { return len(g.nodes) }
func (g *Graph) NumEdges() int { return len(g.edges) }

// Node returns the node with the given id. Asking for a node that does not
// exist is a violation of the graph contract and panics.
func (g *Graph) Node(id NodeID) *Node {
	if int(id) >= len(g.nodes) {
		panic(fmt.Sprintf("constraint: node %v does not exist", id))
	}
	return g.nodes[id]
}

// Edges returns all edges in the order they were added; an edge's index is
// its EdgeID. The returned slice must not be modified.
func (g *Graph) Edges() []Edge {
	return g.edges
}

func (g *Graph) Edge(id EdgeID) Edge {
	if int(id) >= len(g.edges) {
		panic(fmt.Sprintf("constraint: edge e%d does not exist", id))
	}
	return g.edges[id]
}

// InEdges returns the edges of the given kind ending in n. The returned
// slice must not be modified.
func (g *Graph) InEdges(n NodeID, kind EdgeKind) []EdgeID {
	return g.Node(n).in[kind]
}

// OutEdges returns the edges of the given kind starting in n. The returned
// slice must not be modified.
func (g *Graph) OutEdges(n NodeID, kind EdgeKind) []EdgeID {
	return g.Node(n).out[kind]
}

func (g *Graph) addEdge(e Edge) EdgeID {
	src, dst := g.Node(e.Src), g.Node(e.Dst)
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, e)
	src.out[e.Kind] = append(src.out[e.Kind], id)
	dst.in[e.Kind] = append(dst.in[e.Kind], id)
	return id
}

// AddressOf adds the constraint ptr = &obj.
func (g *Graph) AddressOf(ptr, obj NodeID) EdgeID {
	if g.Node(obj).Kind != ObjectNode {
		panic(fmt.Sprintf("constraint: address of non-object %v", obj))
	}
	return g.addEdge(Edge{Kind: Addr, Src: obj, Dst: ptr})
}

// Assign adds the constraint dst = src. Assigning twice between the same
// pair of nodes returns the existing edge.
func (g *Graph) Assign(dst, src NodeID) EdgeID {
	id, _ := g.AddCopyEdge(src, dst)
	return id
}

// Load adds the constraint dst = *ptr.
func (g *Graph) Load(dst, ptr NodeID) EdgeID {
	return g.addEdge(Edge{Kind: Load, Src: ptr, Dst: dst})
}

// Store adds the constraint *ptr = src.
func (g *Graph) Store(ptr, src NodeID) EdgeID {
	return g.addEdge(Edge{Kind: Store, Src: src, Dst: ptr})
}

// FieldAddr adds the constraint dst = &base->offset. The field name is only
// used to label derived objects and may be empty.
func (g *Graph) FieldAddr(dst, base NodeID, offset int, field string) EdgeID {
	if offset < 0 && offset != Element {
		panic(fmt.Sprintf("constraint: invalid field offset %d", offset))
	}
	return g.addEdge(Edge{Kind: Gep, Src: base, Dst: dst, Offset: offset, Field: field})
}

// HasCopyEdge reports whether a copy edge src -> dst exists.
func (g *Graph) HasCopyEdge(src, dst NodeID) bool {
	_, found := g.copies[nodePair{src, dst}]
	return found
}

// AddCopyEdge adds a copy edge src -> dst unless one already exists, in which
// case the existing edge is returned together with false.
func (g *Graph) AddCopyEdge(src, dst NodeID) (EdgeID, bool) {
	key := nodePair{src, dst}
	if id, found := g.copies[key]; found {
		return id, false
	}

	id := g.addEdge(Edge{Kind: Copy, Src: src, Dst: dst})
	g.copies[key] = id
	return id, true
}

// Name returns the label of n.
func (g *Graph) Name(n NodeID) string {
	return g.Node(n).Name
}

// String dumps all edges of g as statements, one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, e := range g.edges {
		sb.WriteString(e.Format(g.Name))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CountEdges returns the number of edges of every kind.
func (g *Graph) CountEdges() [NumKinds]int {
	var counts [NumKinds]int
	for _, e := range g.edges {
		counts[e.Kind]++
	}
	return counts
}
