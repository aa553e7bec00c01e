// Package gen generates random constraint graphs.
package gen

import (
	"fmt"
	"math/rand"

	"github.com/BarrensZeppelin/andersen/constraint"
)

type Config struct {
	// Number of ordinary values, named v0, v1, ...
	Values int
	// Number of base values b0, b1, ... Bases are only assigned addresses of
	// declared objects and are the only operands of field constraints, which
	// keeps the set of derived objects small.
	Bases int
	// Number of objects o0, o1, ...
	Objects int
	// Number of fields of every object. Zero disables field constraints.
	Fields int
	// Number of constraints.
	Constraints int
}

// File returns a random constraint graph described by cfg.
func File(rng *rand.Rand, cfg Config) *constraint.File {
	if cfg.Values == 0 || cfg.Objects == 0 {
		panic("gen: graphs need at least one value and one object")
	}

	f := &constraint.File{}
	names := func(prefix string, n int) []string {
		res := make([]string, n)
		for i := range res {
			res[i] = fmt.Sprintf("%s%d", prefix, i)
		}
		return res
	}

	values, bases, objects := names("v", cfg.Values), names("b", cfg.Bases), names("o", cfg.Objects)
	f.Values = append(values, bases...)
	for _, o := range objects {
		f.Objects = append(f.Objects, constraint.ObjectDecl{Name: o, Fields: cfg.Fields})
	}

	pick := func(xs []string) string { return xs[rng.Intn(len(xs))] }
	// Sources may be any value or object.
	sources := append(append(append([]string{}, values...), bases...), objects...)

	for len(f.Constraints) < cfg.Constraints {
		var stmt string
		switch k := rng.Intn(6); {
		case k == 0:
			stmt = fmt.Sprintf("%s = &%s", pick(values), pick(objects))
		case k == 1 && len(bases) > 0:
			stmt = fmt.Sprintf("%s = &%s", pick(bases), pick(objects))
		case k == 2:
			stmt = fmt.Sprintf("%s = %s", pick(values), pick(sources))
		case k == 3:
			stmt = fmt.Sprintf("%s = *%s", pick(values), pick(sources))
		case k == 4:
			stmt = fmt.Sprintf("*%s = %s", pick(values), pick(sources))
		case k == 5 && len(bases) > 0 && cfg.Fields > 0:
			if off := rng.Intn(cfg.Fields + 1); off < cfg.Fields {
				stmt = fmt.Sprintf("%s = &%s->%d", pick(values), pick(bases), off)
			} else {
				stmt = fmt.Sprintf("%s = &%s[*]", pick(values), pick(bases))
			}
		default:
			continue
		}
		f.Constraints = append(f.Constraints, stmt)
	}

	return f
}

// Shuffle returns a copy of f with the declarations and constraints
// reordered. Building the result assigns different ids to the same names.
func Shuffle(rng *rand.Rand, f *constraint.File) *constraint.File {
	res := *f
	res.Values = shuffled(rng, f.Values)
	res.Objects = shuffled(rng, f.Objects)
	res.Constraints = shuffled(rng, f.Constraints)
	return &res
}

func shuffled[T any](rng *rand.Rand, xs []T) []T {
	res := append([]T(nil), xs...)
	rng.Shuffle(len(res), func(i, j int) { res[i], res[j] = res[j], res[i] })
	return res
}

// Graph builds a random graph. It panics if the generated file is invalid.
func Graph(rng *rand.Rand, cfg Config) *constraint.Graph {
	g, err := File(rng, cfg).Build()
	if err != nil {
		panic(err)
	}
	return g
}
