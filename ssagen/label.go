package ssagen

import (
	"fmt"
	"strings"

	"github.com/BarrensZeppelin/andersen/constraint"
	"golang.org/x/tools/go/ssa"
)

// Label denotes the abstract object an object node stands for: the object
// allocated at Site, or the sub-object of it reached through Path.
type Label struct {
	// The allocating instruction, or the *ssa.Global or *ssa.Function the
	// object represents.
	Site ssa.Value
	// Access path of the sub-object, e.g. ".f" or "[*].g". Empty for the
	// allocated object itself.
	Path string
}

func (l Label) String() string {
	switch site := l.Site.(type) {
	case *ssa.Function, *ssa.Global:
		return site.String() + l.Path
	default:
		return fmt.Sprintf("%v: %s = %v%s", site.Parent(), site.Name(), site, l.Path)
	}
}

// Label returns the label of the object node n.
func (p *Program) Label(n constraint.NodeID) (Label, bool) {
	root := n
	for {
		base, _, derived := p.Graph.Node(root).Base()
		if !derived {
			break
		}
		root = base
	}

	site, found := p.sites[root]
	if !found {
		return Label{}, false
	}

	// Derived objects are named by extending the name of the object they
	// were derived from, so the path is the remaining suffix.
	path := strings.TrimPrefix(p.Graph.Name(n), p.Graph.Name(root))
	return Label{Site: site, Path: path}, true
}
