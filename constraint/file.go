package constraint

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// File is the YAML representation of a constraint graph:
//
//	values: [p, q, r]
//	objects:
//	  - name: x
//	  - name: s
//	    fields: 2
//	constraints:
//	  - p = &x
//	  - r = *p
//	  - "*p = q"
//	  - f = &p->1
//	  - e = &p[*]
type File struct {
	Values         []string     `yaml:"values,omitempty"`
	Objects        []ObjectDecl `yaml:"objects,omitempty"`
	Constraints    []string     `yaml:"constraints,omitempty"`
	MaxFieldOffset int          `yaml:"maxFieldOffset,omitempty"`
	MaxFieldDepth  int          `yaml:"maxFieldDepth,omitempty"`
}

type ObjectDecl struct {
	Name   string `yaml:"name"`
	Fields int    `yaml:"fields,omitempty"`
}

var ErrSyntax = errors.New("invalid constraint")

// LoadFile reads a constraint graph from a YAML file.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening constraint graph")
	}
	defer f.Close()

	g, err := Decode(f)
	return g, errors.Wrap(err, path)
}

// Decode reads a constraint graph in YAML form from r.
func Decode(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, errors.Wrap(err, "decoding constraint graph")
	}
	return file.Build()
}

// Build constructs the graph described by f.
func (f *File) Build() (*Graph, error) {
	g := New()
	if f.MaxFieldOffset > 0 {
		g.MaxFieldOffset = f.MaxFieldOffset
	}
	if f.MaxFieldDepth > 0 {
		g.MaxFieldDepth = f.MaxFieldDepth
	}

	names := make(map[string]NodeID)
	declare := func(name string, mk func() NodeID) error {
		if !isIdent(name) {
			return errors.Errorf("invalid node name %q", name)
		}
		if _, found := names[name]; found {
			return errors.Errorf("node %q declared twice", name)
		}
		names[name] = mk()
		return nil
	}

	for _, name := range f.Values {
		if err := declare(name, func() NodeID { return g.NewValue(name) }); err != nil {
			return nil, err
		}
	}
	for _, obj := range f.Objects {
		if obj.Fields < 0 {
			return nil, errors.Errorf("object %q has negative field count", obj.Name)
		}
		if err := declare(obj.Name, func() NodeID { return g.NewObject(obj.Name, obj.Fields) }); err != nil {
			return nil, err
		}
	}

	lookup := func(name string) (NodeID, error) {
		if id, found := names[name]; found {
			return id, nil
		}
		return 0, errors.Errorf("undeclared node %q", name)
	}

	for i, stmt := range f.Constraints {
		e, err := parseConstraint(stmt)
		if err != nil {
			return nil, errors.Wrapf(err, "constraint %d", i)
		}

		lhs, err := lookup(e.lhs)
		if err != nil {
			return nil, errors.Wrapf(err, "constraint %d: %s", i, stmt)
		}
		rhs, err := lookup(e.rhs)
		if err != nil {
			return nil, errors.Wrapf(err, "constraint %d: %s", i, stmt)
		}

		switch e.kind {
		case Addr:
			if g.Node(rhs).Kind != ObjectNode {
				return nil, errors.Errorf("constraint %d: %s: %q is not an object", i, stmt, e.rhs)
			}
			g.AddressOf(lhs, rhs)
		case Copy:
			g.Assign(lhs, rhs)
		case Load:
			g.Load(lhs, rhs)
		case Store:
			g.Store(lhs, rhs)
		case Gep:
			g.FieldAddr(lhs, rhs, e.offset, "")
		default:
			panic(errors.Errorf("unknown edge kind %d", uint8(e.kind)))
		}
	}

	return g, nil
}

type statement struct {
	kind     EdgeKind
	lhs, rhs string
	offset   int
}

// parseConstraint parses one of
//
//	a = &b   a = b   a = *b   *a = b   a = &b->N   a = &b[*]
func parseConstraint(stmt string) (statement, error) {
	lhs, rhs, ok := strings.Cut(stmt, "=")
	if !ok {
		return statement{}, errors.Wrapf(ErrSyntax, "%q: missing '='", stmt)
	}
	lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)

	var s statement
	switch {
	case strings.HasPrefix(lhs, "*"):
		s = statement{kind: Store, lhs: strings.TrimSpace(lhs[1:]), rhs: rhs}
	case strings.HasPrefix(rhs, "&"):
		rhs = strings.TrimSpace(rhs[1:])
		if base, field, found := strings.Cut(rhs, "->"); found {
			offset, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || offset < 0 {
				return statement{}, errors.Wrapf(ErrSyntax, "%q: bad field offset", stmt)
			}
			s = statement{kind: Gep, lhs: lhs, rhs: strings.TrimSpace(base), offset: offset}
		} else if base, found := strings.CutSuffix(rhs, "[*]"); found {
			s = statement{kind: Gep, lhs: lhs, rhs: strings.TrimSpace(base), offset: Element}
		} else {
			s = statement{kind: Addr, lhs: lhs, rhs: rhs}
		}
	case strings.HasPrefix(rhs, "*"):
		s = statement{kind: Load, lhs: lhs, rhs: strings.TrimSpace(rhs[1:])}
	default:
		s = statement{kind: Copy, lhs: lhs, rhs: rhs}
	}

	if !isIdent(s.lhs) || !isIdent(s.rhs) {
		return statement{}, errors.Wrapf(ErrSyntax, "%q", stmt)
	}
	return s, nil
}

func isIdent(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '.' || r == '$' || r == '#',
			'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		default:
			return false
		}
	}
	return true
}

// File converts g back to its YAML representation. Derived objects are not
// declared, and edges touching them are omitted; node names must be unique.
func (g *Graph) File() (*File, error) {
	f := &File{}
	if g.MaxFieldOffset != DefaultMaxFieldOffset {
		f.MaxFieldOffset = g.MaxFieldOffset
	}
	if g.MaxFieldDepth != DefaultMaxFieldDepth {
		f.MaxFieldDepth = g.MaxFieldDepth
	}

	seen := make(map[string]bool)
	for _, n := range g.nodes {
		if n.derived {
			continue
		}
		if seen[n.Name] {
			return nil, errors.Errorf("node name %q is not unique", n.Name)
		}
		seen[n.Name] = true

		if n.Kind == ObjectNode {
			f.Objects = append(f.Objects, ObjectDecl{Name: n.Name, Fields: n.Fields})
		} else {
			f.Values = append(f.Values, n.Name)
		}
	}

	for _, e := range g.edges {
		if g.nodes[e.Src].derived || g.nodes[e.Dst].derived {
			continue
		}
		f.Constraints = append(f.Constraints, e.Format(g.Name))
	}
	return f, nil
}

// Marshal encodes g in the format read by Load.
func (g *Graph) Marshal() ([]byte, error) {
	f, err := g.File()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(f)
}
