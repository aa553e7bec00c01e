package ssagen

import (
	"fmt"
	"go/types"

	"github.com/BarrensZeppelin/andersen/constraint"
	"golang.org/x/tools/go/types/typeutil"
)

// PointerLike reports whether values of type t may hold pointers that the
// analysis tracks. Aggregates are not pointer-like; their components are.
func PointerLike(t types.Type) bool {
	switch t := t.(type) {
	case *types.Pointer,
		*types.Map,
		*types.Chan,
		*types.Slice,
		*types.Interface,
		*types.Signature,
		*types.TypeParam:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	case *types.Named:
		return PointerLike(t.Underlying())
	default:
		return false
	}
}

func isUnsafePointer(t types.Type) bool {
	bt, ok := t.Underlying().(*types.Basic)
	return ok && bt.Kind() == types.UnsafePointer
}

// A step selects a sub-object: a field slot or, for constraint.Element, the
// element of an array. Field steps carry the access path of the slot.
type step struct {
	offset int
	name   string
}

// A leaf is a scalar component of a value. Values of struct, array and tuple
// type are represented by one node per pointer-like leaf.
type leaf struct {
	typ types.Type
	// Access path from the start of the value, e.g. "f.g" or "a[*]".
	name string
	// Sub-object steps leading to the leaf when the value is in memory.
	// Consecutive field steps are already merged.
	path []step
}

type layout struct {
	leaves []leaf
	// Number of field slots the value occupies in memory.
	slots int
}

type layouts struct {
	cache typeutil.Map
}

func newLayouts(hasher typeutil.Hasher) *layouts {
	l := &layouts{}
	l.cache.SetHasher(hasher)
	return l
}

func (l *layouts) of(t types.Type) *layout {
	if res, ok := l.cache.At(t).(*layout); ok {
		return res
	}

	res := &layout{}
	switch u := t.Underlying().(type) {
	case *types.Struct:
		for i := 0; i < u.NumFields(); i++ {
			f := u.Field(i)
			res.addField(f.Name(), l.of(f.Type()))
		}

	case *types.Tuple:
		for i := 0; i < u.Len(); i++ {
			res.addField(fmt.Sprintf("#%d", i), l.of(u.At(i).Type()))
		}

	case *types.Array:
		for _, lf := range l.of(u.Elem()).leaves {
			res.leaves = append(res.leaves, leaf{
				typ:  lf.typ,
				name: join("[*]", lf.name),
				path: append([]step{{offset: constraint.Element}}, lf.path...),
			})
		}
		res.slots = 1

	default:
		res.leaves = []leaf{{typ: t}}
		res.slots = 1
	}

	l.cache.Set(t, res)
	return res
}

func (res *layout) addField(name string, sub *layout) {
	offset := res.slots
	for _, lf := range sub.leaves {
		var path []step
		if first := lf.path; len(first) > 0 && first[0].offset != constraint.Element {
			merged := step{offset + first[0].offset, join(name, first[0].name)}
			path = append([]step{merged}, lf.path[1:]...)
		} else {
			path = append([]step{{offset, name}}, lf.path...)
		}
		res.leaves = append(res.leaves, leaf{typ: lf.typ, name: join(name, lf.name), path: path})
	}
	res.slots += sub.slots
}

func join(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case name[0] == '[':
		return prefix + name
	default:
		return prefix + "." + name
	}
}

// fieldRange returns the range of leaves and the slot offset of field i of
// struct or tuple type t.
func (l *layouts) fieldRange(t types.Type, i int) (start, end, slot int) {
	var field func(int) types.Type
	switch u := t.Underlying().(type) {
	case *types.Struct:
		field = func(i int) types.Type { return u.Field(i).Type() }
	case *types.Tuple:
		field = func(i int) types.Type { return u.At(i).Type() }
	default:
		panic(fmt.Sprintf("ssagen: field %d of non-aggregate type %v", i, t))
	}

	for j := 0; j < i; j++ {
		sub := l.of(field(j))
		start += len(sub.leaves)
		slot += sub.slots
	}
	return start, start + len(l.of(field(i)).leaves), slot
}
