package constraint

import (
	"fmt"

	"github.com/pkg/errors"
)

// This file contains the definitions of nodes and of the abstract objects
// that are targets of pointers. An object is either declared by the client
// (an allocation site, a global, a function) or derived from another object
// by the field oracle: a field of a struct object, or the single element of
// an array/slice object.

type NodeKind uint8

const (
	ValueNode NodeKind = iota
	ObjectNode
)

func (k NodeKind) String() string {
	if k == ObjectNode {
		return "object"
	}
	return "value"
}

// Element is the offset of the element of an array or slice object. Arrays
// are modelled field-insensitively, so all elements share one object.
const Element = -1

type Node struct {
	ID   NodeID
	Kind NodeKind
	// Name is the label of the node. For derived objects it is the access
	// path through which the object was first derived, e.g. "x.f" or "s[*]".
	Name string
	// Fields bounds the field offsets of an object; zero means unbounded.
	Fields int

	derived bool
	base    NodeID
	offset  int
	depth   int

	in, out [NumKinds][]EdgeID
}

// Base returns the object n was derived from and the offset relative to it.
// ok is false for nodes that are not derived objects.
func (n *Node) Base() (base NodeID, offset int, ok bool) {
	return n.base, n.offset, n.derived
}

func (n *Node) String() string {
	return fmt.Sprintf("%v(%s)", n.ID, n.Name)
}

var (
	ErrNotObject       = errors.New("not an object")
	ErrFieldOutOfRange = errors.New("field offset out of range")
)

type fieldKey struct {
	root   NodeID
	offset int
}

// FieldObject resolves the sub-object of obj selected by the Gep edge e.
//
// Field offsets are flattened: the field of a field object is resolved
// against the outermost struct object with the offsets added. Element
// objects act as roots of their own fields, and the element of an element
// object is the object itself. The same (object, offset) pair always resolves
// to the same node.
func (g *Graph) FieldObject(obj NodeID, e EdgeID) (NodeID, error) {
	edge := g.Edge(e)
	if edge.Kind != Gep {
		panic(fmt.Sprintf("constraint: field object requested for %v edge %s", edge.Kind, edge))
	}

	n := g.Node(obj)
	if n.Kind != ObjectNode {
		return 0, errors.Wrapf(ErrNotObject, "%s", n)
	}

	key := fieldKey{obj, edge.Offset}
	if edge.Offset == Element {
		if n.derived && n.offset == Element {
			return obj, nil
		}
	} else if n.derived && n.offset != Element {
		key = fieldKey{n.base, n.offset + edge.Offset}
	}

	if id, found := g.fields[key]; found {
		return id, nil
	}

	root := g.nodes[key.root]
	if root.depth >= g.MaxFieldDepth {
		return 0, errors.Wrapf(ErrFieldOutOfRange,
			"%s is nested %d levels deep", root, root.depth+1)
	}
	if key.offset != Element {
		limit := g.MaxFieldOffset
		if root.Fields > 0 {
			limit = root.Fields - 1
		}
		if key.offset > limit {
			return 0, errors.Wrapf(ErrFieldOutOfRange,
				"offset %d of %s (limit %d)", key.offset, root, limit)
		}
	}

	var name string
	switch {
	case edge.Offset == Element:
		name = n.Name + "[*]"
	case edge.Field != "":
		name = n.Name + "." + edge.Field
	default:
		name = fmt.Sprintf("%s.#%d", n.Name, edge.Offset)
	}

	id := g.addNode(&Node{
		Kind:    ObjectNode,
		Name:    name,
		derived: true,
		base:    key.root,
		offset:  key.offset,
		depth:   root.depth + 1,
	})
	g.fields[key] = id
	return id, nil
}
