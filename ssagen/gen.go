// Package ssagen generates the constraint graph of a Go program from its SSA
// form.
//
// Every pointer-like SSA value gets a value node. Values of aggregate type
// get one node per pointer-like scalar component. Allocations, globals,
// functions and interface boxes are objects; struct fields, array and slice
// elements, and map keys and values are derived from them by field
// constraints.
package ssagen

import (
	"fmt"
	"go/token"
	"go/types"
	"strings"

	"github.com/BarrensZeppelin/andersen/constraint"
	"github.com/BarrensZeppelin/andersen/internal/queue"
	"github.com/BarrensZeppelin/andersen/internal/slices"
	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
	"golang.org/x/tools/go/types/typeutil"
)

type Config struct {
	Program *ssa.Program

	// Packages whose init and main functions are the roots of the analysis.
	// Defaults to the main packages of Program.
	EntryPackages []*ssa.Package

	// When TreatMethodsAsRoots is true, all methods of all types in
	// prog.RuntimeTypes() are implicitly called.
	TreatMethodsAsRoots bool

	// Log receives diagnostics. Defaults to the standard logger.
	Log log.FieldLogger
}

// noNode marks components of values that cannot hold pointers.
const noNode = ^constraint.NodeID(0)

type generator struct {
	prog *ssa.Program
	g    *constraint.Graph
	log  log.FieldLogger

	layouts *layouts

	queue   queue.Queue[*ssa.Function]
	visited map[*ssa.Function]bool

	values  map[ssa.Value][]constraint.NodeID
	returns map[*ssa.Function][]constraint.NodeID
	funcs   map[*ssa.Function]constraint.NodeID
	globals map[*ssa.Global]constraint.NodeID
	sites   map[constraint.NodeID]ssa.Value
	names   map[string]int

	// Value receiving all panic arguments, read by recover.
	panicVar constraint.NodeID

	cg      *callgraph.Graph
	dynamic int
}

// Generate builds the constraint graph of the functions reachable from the
// entry packages of config.
func Generate(config Config) *Program {
	prog := config.Program
	logger := config.Log
	if logger == nil {
		logger = log.StandardLogger()
	}

	gen := &generator{
		prog:    prog,
		g:       constraint.New(),
		log:     logger,
		layouts: newLayouts(typeutil.MakeHasher()),
		visited: make(map[*ssa.Function]bool),
		values:  make(map[ssa.Value][]constraint.NodeID),
		returns: make(map[*ssa.Function][]constraint.NodeID),
		funcs:   make(map[*ssa.Function]constraint.NodeID),
		globals: make(map[*ssa.Global]constraint.NodeID),
		sites:   make(map[constraint.NodeID]ssa.Value),
		names:   make(map[string]int),
	}
	gen.panicVar = gen.newValue("panic")

	root := prog.NewFunction("<root>", new(types.Signature), "root of callgraph")
	gen.cg = callgraph.New(root)

	entries := config.EntryPackages
	if entries == nil {
		entries = ssautil.MainPackages(prog.AllPackages())
	}
	for _, pkg := range entries {
		for _, name := range [...]string{"init", "main"} {
			if fun := pkg.Func(name); fun != nil {
				gen.discoverFun(fun)
				callgraph.AddEdge(gen.cg.CreateNode(root), nil, gen.cg.CreateNode(fun))
			}
		}
	}

	if config.TreatMethodsAsRoots {
		for _, T := range prog.RuntimeTypes() {
			mset := prog.MethodSets.MethodSet(T)
			for i, n := 0, mset.Len(); i < n; i++ {
				gen.discoverFun(prog.MethodValue(mset.At(i)))
			}
		}
	}

	for !gen.queue.Empty() {
		gen.processFunc(gen.queue.Pop())
	}

	if gen.dynamic > 0 {
		gen.log.WithField("calls", gen.dynamic).Info("Dynamic calls are not resolved")
	}

	return &Program{
		Graph:        gen.g,
		Reachable:    gen.visited,
		CallGraph:    gen.cg,
		DynamicCalls: gen.dynamic,
		values:       gen.values,
		sites:        gen.sites,
	}
}

func (gen *generator) discoverFun(fun *ssa.Function) {
	if fun != nil && !gen.visited[fun] {
		gen.visited[fun] = true
		gen.queue.Push(fun)
	}
}

// name returns a unique node name derived from s.
func (gen *generator) name(s string) string {
	s = strings.ReplaceAll(s, "[*]", ".elem")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '_' || r == '.' || r == '$',
			'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)

	gen.names[s]++
	if n := gen.names[s]; n > 1 {
		return fmt.Sprintf("%s#%d", s, n)
	}
	return s
}

func (gen *generator) newValue(name string) constraint.NodeID {
	return gen.g.NewValue(gen.name(name))
}

func (gen *generator) newObject(site ssa.Value, name string) constraint.NodeID {
	obj := gen.g.NewObject(gen.name(name), 0)
	gen.sites[obj] = site
	return obj
}

// alloc makes reg point to a new object allocated at site.
func (gen *generator) alloc(site ssa.Value, reg constraint.NodeID) {
	if reg == noNode {
		return
	}
	obj := gen.newObject(site, "new."+qualify(site))
	gen.g.AddressOf(reg, obj)
}

func qualify(v ssa.Value) string {
	if fun := v.Parent(); fun != nil {
		return fun.String() + "." + v.Name()
	}
	return v.Name()
}

// nodes returns the component nodes of a value of type t.
func (gen *generator) nodes(name string, t types.Type) []constraint.NodeID {
	leaves := gen.layouts.of(t).leaves
	res := make([]constraint.NodeID, len(leaves))
	for i, lf := range leaves {
		if !PointerLike(lf.typ) {
			res[i] = noNode
		} else if len(leaves) == 1 && lf.name == "" {
			res[i] = gen.newValue(name)
		} else {
			res[i] = gen.newValue(name + "." + lf.name)
		}
	}
	return res
}

// reg returns the single node of a pointer-like register.
func (gen *generator) reg(v ssa.Value) constraint.NodeID {
	return gen.eval(v)[0]
}

func (gen *generator) eval(v ssa.Value) []constraint.NodeID {
	switch v := v.(type) {
	case *ssa.Const:
		// Constants never hold pointers.
		return slices.Map(gen.layouts.of(v.Type()).leaves, func(leaf) constraint.NodeID { return noNode })

	case *ssa.Function:
		node, found := gen.funcs[v]
		if !found {
			node = gen.newValue(v.String())
			gen.g.AddressOf(node, gen.newObject(v, "func."+v.String()))
			gen.funcs[v] = node
			gen.discoverFun(v)
		}
		return []constraint.NodeID{node}

	case *ssa.Global:
		node, found := gen.globals[v]
		if !found {
			node = gen.newValue(v.String())
			gen.g.AddressOf(node, gen.newObject(v, "global."+v.String()))
			gen.globals[v] = node
		}
		return []constraint.NodeID{node}

	case *ssa.Builtin:
		return []constraint.NodeID{noNode}
	}

	nodes, found := gen.values[v]
	if !found {
		nodes = gen.nodes(qualify(v), v.Type())
		gen.values[v] = nodes
	}
	return nodes
}

func (gen *generator) copy(dst, src []constraint.NodeID) {
	if len(dst) != len(src) {
		log.Panicf("Copying between values with different layouts: %d != %d", len(dst), len(src))
	}
	for i := range dst {
		if dst[i] != noNode && src[i] != noNode {
			gen.g.Assign(dst[i], src[i])
		}
	}
}

// address returns a value pointing to the sub-objects selected by path of the
// objects ptr points to.
func (gen *generator) address(ptr constraint.NodeID, path []step) constraint.NodeID {
	if ptr == noNode {
		return noNode
	}
	for _, s := range path {
		name := gen.g.Name(ptr)
		if s.offset == constraint.Element {
			name += "[*]"
		} else {
			name += "." + s.name
		}

		next := gen.newValue(name)
		gen.g.FieldAddr(next, ptr, s.offset, s.name)
		ptr = next
	}
	return ptr
}

// load adds constraints for dst = *ptr, where ptr has type *t.
func (gen *generator) load(dst []constraint.NodeID, ptr constraint.NodeID, t types.Type) {
	if ptr == noNode {
		return
	}
	for i, lf := range gen.layouts.of(t).leaves {
		if dst[i] != noNode {
			gen.g.Load(dst[i], gen.address(ptr, lf.path))
		}
	}
}

// store adds constraints for *ptr = src, where ptr has type *t.
func (gen *generator) store(ptr constraint.NodeID, src []constraint.NodeID, t types.Type) {
	if ptr == noNode {
		return
	}
	for i, lf := range gen.layouts.of(t).leaves {
		if src[i] != noNode {
			gen.g.Store(gen.address(ptr, lf.path), src[i])
		}
	}
}

// Maps store their keys and values in the elements of two fields of the map
// object.
func (gen *generator) mapKeys(m constraint.NodeID) constraint.NodeID {
	return gen.address(m, []step{{0, "keys"}, {offset: constraint.Element}})
}

func (gen *generator) mapValues(m constraint.NodeID) constraint.NodeID {
	return gen.address(m, []step{{1, "values"}, {offset: constraint.Element}})
}

func (gen *generator) elements(slice constraint.NodeID) constraint.NodeID {
	return gen.address(slice, []step{{offset: constraint.Element}})
}

// commaOk returns the leading nodes of a (T, bool) tuple value, or all of the
// nodes when the value is not a tuple.
func (gen *generator) commaOk(v ssa.Value, commaOk bool, t types.Type) []constraint.NodeID {
	nodes := gen.eval(v)
	if commaOk {
		return nodes[:len(gen.layouts.of(t).leaves)]
	}
	return nodes
}

func (gen *generator) call(call ssa.CallInstruction) {
	common := call.Common()
	caller := gen.cg.CreateNode(call.Parent())

	var rval []constraint.NodeID
	if v := call.Value(); v != nil {
		rval = gen.eval(v)
	}

	if b, ok := common.Value.(*ssa.Builtin); ok {
		gen.builtin(b, common.Args, call.Value())
		return
	}

	callee := common.StaticCallee()
	if common.IsInvoke() || callee == nil {
		gen.dynamic++
		gen.log.WithField("call", common).Debug("Unresolved dynamic call")
		if !common.IsInvoke() {
			// The function value is still evaluated, so that any function
			// flowing into it is analysed.
			gen.eval(common.Value)
		}
		return
	}

	gen.discoverFun(callee)
	callgraph.AddEdge(caller, call, gen.cg.CreateNode(callee))

	if callee.Blocks == nil {
		gen.log.WithField("function", callee).Debug("No body for external function")
		return
	}

	for i, arg := range common.Args {
		gen.copy(gen.eval(callee.Params[i]), gen.eval(arg))
	}

	if rval != nil {
		gen.copy(rval, gen.results(callee))
	}
}

func (gen *generator) results(fun *ssa.Function) []constraint.NodeID {
	res, found := gen.returns[fun]
	if !found {
		res = gen.nodes(fun.String()+".return", fun.Signature.Results())
		gen.returns[fun] = res
	}
	return res
}

func (gen *generator) builtin(b *ssa.Builtin, args []ssa.Value, res ssa.Value) {
	if res == nil {
		return
	}

	switch b.Name() {
	case "append":
		// append(s, xs...) returns s or a new array holding the elements of
		// both.
		rval := gen.reg(res)
		gen.alloc(res, rval)
		gen.copy([]constraint.NodeID{rval}, gen.eval(args[0]))
		gen.copyElements(rval, gen.reg(args[0]), res.Type())
		gen.copyElements(rval, gen.reg(args[1]), args[1].Type())

	case "copy":
		gen.copyElements(gen.reg(args[0]), gen.reg(args[1]), args[1].Type())

	case "recover":
		gen.copy(gen.eval(res), []constraint.NodeID{gen.panicVar})

	case "ssa:wrapnilchk":
		gen.copy(gen.eval(res), gen.eval(args[0]))
	}
}

// copyElements adds constraints for dst[*] = src[*], where src has slice
// type t. Strings have no elements holding pointers.
func (gen *generator) copyElements(dst, src constraint.NodeID, t types.Type) {
	st, ok := t.Underlying().(*types.Slice)
	if !ok || dst == noNode || src == noNode {
		return
	}

	elem := st.Elem()
	tmp := gen.nodes(gen.g.Name(src)+"[*]", elem)
	gen.load(tmp, gen.elements(src), elem)
	gen.store(gen.elements(dst), tmp, elem)
}

func (gen *generator) processFunc(fun *ssa.Function) {
	gen.cg.CreateNode(fun)

	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			gen.instruction(fun, insn)
		}
	}
}

func (gen *generator) instruction(fun *ssa.Function, insn ssa.Instruction) {
	switch t := insn.(type) {
	case ssa.CallInstruction:
		gen.call(t)

	case *ssa.Store:
		gen.store(gen.reg(t.Addr), gen.eval(t.Val), t.Val.Type())

	case *ssa.Send:
		gen.store(gen.reg(t.Chan), gen.eval(t.X), t.X.Type())

	case *ssa.MapUpdate:
		m := gen.reg(t.Map)
		if m == noNode {
			return
		}
		mt := t.Map.Type().Underlying().(*types.Map)
		gen.store(gen.mapKeys(m), gen.eval(t.Key), mt.Key())
		gen.store(gen.mapValues(m), gen.eval(t.Value), mt.Elem())

	case *ssa.Panic:
		gen.copy([]constraint.NodeID{gen.panicVar}, gen.eval(t.X))

	case *ssa.Return:
		if len(t.Results) == 1 {
			gen.copy(gen.results(fun), gen.eval(t.Results[0]))
			return
		}
		var vals []constraint.NodeID
		for _, r := range t.Results {
			vals = append(vals, gen.eval(r)...)
		}
		gen.copy(gen.results(fun), vals)

	case *ssa.RunDefers, *ssa.If, *ssa.Jump, *ssa.DebugRef,
		// Iterators have a degenerate type; Next reads the map directly.
		*ssa.Range:

	case ssa.Value:
		gen.value(t)

	default:
		log.Panicf("Unhandled: %T %v", t, t)
	}
}

func (gen *generator) value(v ssa.Value) {
	reg := gen.eval(v)

	switch t := v.(type) {
	case *ssa.Alloc:
		gen.alloc(t, reg[0])

	case *ssa.MakeChan, *ssa.MakeSlice, *ssa.MakeMap:
		gen.alloc(t, reg[0])

	case *ssa.MakeInterface:
		box := gen.newObject(t, "box."+qualify(t))
		gen.g.AddressOf(reg[0], box)
		gen.store(reg[0], gen.eval(t.X), t.X.Type())

	case *ssa.MakeClosure:
		fn := t.Fn.(*ssa.Function)
		gen.copy(reg, gen.eval(fn))
		for i, b := range t.Bindings {
			gen.copy(gen.eval(fn.FreeVars[i]), gen.eval(b))
		}

	case *ssa.UnOp:
		switch t.Op {
		case token.MUL:
			elem := t.X.Type().Underlying().(*types.Pointer).Elem()
			gen.load(reg, gen.reg(t.X), elem)

		case token.ARROW:
			elem := t.X.Type().Underlying().(*types.Chan).Elem()
			gen.load(gen.commaOk(t, t.CommaOk, elem), gen.reg(t.X), elem)
		}

	case *ssa.Convert:
		switch {
		case !PointerLike(t.Type()):
		case isUnsafePointer(t.X.Type()):
			// Treat conversion from unsafe pointer to pointer as a new
			// allocation.
			gen.alloc(t, reg[0])
		case PointerLike(t.X.Type()):
			gen.copy(reg, gen.eval(t.X))
		default:
			// string -> []byte/[]rune
			gen.alloc(t, reg[0])
		}

	case *ssa.ChangeType:
		gen.copy(reg, gen.eval(t.X))

	case *ssa.ChangeInterface:
		gen.copy(reg, gen.eval(t.X))

	case *ssa.SliceToArrayPointer:
		gen.copy(reg, gen.eval(t.X))

	case *ssa.Slice:
		if PointerLike(t.X.Type()) {
			gen.copy(reg, gen.eval(t.X))
		}

	case *ssa.IndexAddr:
		if x := gen.reg(t.X); x != noNode {
			gen.g.FieldAddr(reg[0], x, constraint.Element, "")
		}

	case *ssa.Index:
		// Array values have the layout of their element.
		if _, ok := t.X.Type().Underlying().(*types.Array); ok {
			gen.copy(reg, gen.eval(t.X))
		}

	case *ssa.FieldAddr:
		st := t.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
		_, _, slot := gen.layouts.fieldRange(st, t.Field)
		if x := gen.reg(t.X); x != noNode {
			gen.g.FieldAddr(reg[0], x, slot, st.Field(t.Field).Name())
		}

	case *ssa.Field:
		start, end, _ := gen.layouts.fieldRange(t.X.Type(), t.Field)
		gen.copy(reg, gen.eval(t.X)[start:end])

	case *ssa.Extract:
		start, end, _ := gen.layouts.fieldRange(t.Tuple.Type(), t.Index)
		gen.copy(reg, gen.eval(t.Tuple)[start:end])

	case *ssa.Lookup:
		if mt, ok := t.X.Type().Underlying().(*types.Map); ok {
			gen.load(gen.commaOk(t, t.CommaOk, mt.Elem()), gen.mapValues(gen.reg(t.X)), mt.Elem())
		}

	case *ssa.Phi:
		for _, e := range t.Edges {
			gen.copy(reg, gen.eval(e))
		}

	case *ssa.Select:
		// (index, recvOk, r_0, ..., r_n-1) for the receiving states.
		i := 2
		for _, st := range t.States {
			if st.Dir != types.RecvOnly {
				gen.store(gen.reg(st.Chan), gen.eval(st.Send), st.Send.Type())
				continue
			}
			start, end, _ := gen.layouts.fieldRange(t.Type(), i)
			elem := st.Chan.Type().Underlying().(*types.Chan).Elem()
			gen.load(reg[start:end], gen.reg(st.Chan), elem)
			i++
		}

	case *ssa.TypeAssert:
		res := gen.commaOk(t, t.CommaOk, t.AssertedType)
		if _, isItf := t.AssertedType.Underlying().(*types.Interface); isItf {
			gen.copy(res, gen.eval(t.X))
		} else {
			gen.load(res, gen.reg(t.X), t.AssertedType)
		}

	case *ssa.Next:
		if t.IsString {
			return
		}
		x := t.Iter.(*ssa.Range).X
		mt := x.Type().Underlying().(*types.Map)
		m := gen.reg(x)
		if m == noNode {
			return
		}
		kStart, kEnd, _ := gen.layouts.fieldRange(t.Type(), 1)
		vStart, vEnd, _ := gen.layouts.fieldRange(t.Type(), 2)
		gen.load(reg[kStart:kEnd], gen.mapKeys(m), mt.Key())
		gen.load(reg[vStart:vEnd], gen.mapValues(m), mt.Elem())

	case *ssa.BinOp:

	default:
		gen.log.WithField("instruction", v).Warnf("Unhandled %T", v)
	}
}
