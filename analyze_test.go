package andersen_test

import (
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/constraint"
	"github.com/BarrensZeppelin/andersen/internal/gen"
	"github.com/BarrensZeppelin/andersen/internal/slices"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func load(t testing.TB, src string) *constraint.Graph {
	g, err := constraint.Decode(strings.NewReader(src))
	require.NoError(t, err)
	return g
}

// ids maps the names of all current nodes of g to their ids.
func ids(g *constraint.Graph) map[string]andersen.NodeID {
	res := make(map[string]andersen.NodeID, g.NumNodes())
	for i := 0; i < g.NumNodes(); i++ {
		id := constraint.NodeID(i)
		res[g.Name(id)] = id
	}
	return res
}

// solution renders the points-to sets of a solved graph by node names.
func solution(g *constraint.Graph, res *andersen.Result) map[string][]string {
	sol := make(map[string][]string)
	for _, e := range res.Dump() {
		objs := slices.Map(e.PointsTo, g.Name)
		sort.Strings(objs)
		sol[g.Name(e.Node)] = objs
	}
	return sol
}

func analyze(t *testing.T, src string) (*constraint.Graph, map[string][]string) {
	g := load(t, src)
	res, err := andersen.Analyze(andersen.AnalysisConfig{Graph: g})
	require.NoError(t, err)
	return g, solution(g, res)
}

func TestAnalyze(t *testing.T) {
	t.Run("AddressOf", func(t *testing.T) {
		_, sol := analyze(t, `
values: [p]
objects: [{name: x}]
constraints: [p = &x]`)

		assert.Equal(t, map[string][]string{"p": {"x"}}, sol)
	})

	t.Run("CopyTransitivity", func(t *testing.T) {
		_, sol := analyze(t, `
values: [a, b, c, d]
objects: [{name: x}, {name: y}]
constraints:
  - a = &x
  - b = a
  - c = b
  - d = &y
  - a = d`)

		for _, v := range []string{"a", "b", "c"} {
			assert.Equal(t, []string{"x", "y"}, sol[v], v)
		}
		assert.Equal(t, []string{"y"}, sol["d"])
	})

	t.Run("LoadStore", func(t *testing.T) {
		g, sol := analyze(t, `
values: [p, q, r]
objects: [{name: x}, {name: y}]
constraints:
  - p = &x
  - q = &y
  - "*p = q"
  - r = *p`)

		if diff := cmp.Diff(map[string][]string{
			"p": {"x"},
			"q": {"y"},
			"x": {"y"},
			"r": {"y"},
		}, sol); diff != "" {
			t.Errorf("unexpected solution (-want +got):\n%s", diff)
		}

		n := ids(g)
		assert.True(t, g.HasCopyEdge(n["q"], n["x"]), "store synthesizes q -> x")
		assert.True(t, g.HasCopyEdge(n["x"], n["r"]), "load synthesizes x -> r")
	})

	t.Run("Fields", func(t *testing.T) {
		g, sol := analyze(t, `
values: [p, q, f, e, g, r]
objects: [{name: s, fields: 2}, {name: arr}, {name: y}]
constraints:
  - p = &s
  - f = &p->1
  - g = &f->0
  - q = &arr
  - e = &q[*]
  - r = &e[*]
  - "*f = e"
  - "*e = p"`)

		assert.Equal(t, []string{"s"}, sol["p"])
		assert.Equal(t, []string{"s.#1"}, sol["f"])
		assert.Equal(t, []string{"s.#1"}, sol["g"], "offsets are flattened")
		assert.Equal(t, []string{"arr[*]"}, sol["e"])
		assert.Equal(t, []string{"arr[*]"}, sol["r"])
		assert.Equal(t, []string{"arr[*]"}, sol["s.#1"])
		assert.Equal(t, []string{"s"}, sol["arr[*]"])

		base, offset, ok := g.Node(ids(g)["s.#1"]).Base()
		assert.True(t, ok)
		assert.Equal(t, ids(g)["s"], base)
		assert.Equal(t, 1, offset)
	})

	t.Run("SelfReference", func(t *testing.T) {
		g, sol := analyze(t, `
values: [p]
objects: [{name: x}]
constraints:
  - p = &x
  - "*p = p"
  - p = *p
  - p = p`)

		assert.Equal(t, []string{"x"}, sol["p"])
		assert.Equal(t, []string{"x"}, sol["x"])
		n := ids(g)
		assert.True(t, g.HasCopyEdge(n["p"], n["x"]))
		assert.True(t, g.HasCopyEdge(n["x"], n["p"]))
	})

	t.Run("MayAlias", func(t *testing.T) {
		g := load(t, `
values: [p, q, r]
objects: [{name: x}, {name: y}]
constraints: [p = &x, q = &y, r = &x, r = q]`)
		res, err := andersen.Analyze(andersen.AnalysisConfig{Graph: g})
		require.NoError(t, err)

		n := ids(g)
		assert.False(t, res.MayAlias(n["p"], n["q"]))
		assert.True(t, res.MayAlias(n["p"], n["r"]))
		assert.True(t, res.MayAlias(n["q"], n["r"]))
		assert.False(t, res.MayAlias(n["x"], n["p"]), "x points nowhere")
	})
}

func TestSolver(t *testing.T) {
	const src = `
values: [p, q, r]
objects: [{name: x}, {name: y}]
constraints:
  - p = &x
  - q = &y
  - "*p = q"
  - r = *p`

	t.Run("Dump", func(t *testing.T) {
		g := load(t, src)
		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g})
		require.NoError(t, s.Run())

		// p q r x y
		// 0 1 2 3 4
		assert.Equal(t, []andersen.Entry{
			{Node: 0, PointsTo: []andersen.NodeID{3}},
			{Node: 1, PointsTo: []andersen.NodeID{4}},
			{Node: 2, PointsTo: []andersen.NodeID{4}},
			{Node: 3, PointsTo: []andersen.NodeID{4}},
		}, s.Dump())
		assert.Equal(t, s.Dump(), s.Result().Dump())
		assert.Equal(t, "pts[0] = {3}\npts[1] = {4}\npts[2] = {4}\npts[3] = {4}\n",
			s.Result().String())
		assert.Empty(t, s.PointsTo(4))
		assert.Equal(t, 4, s.Stats().Facts)
		assert.Equal(t, 2, s.Stats().Synthesized)
	})

	t.Run("Idempotent", func(t *testing.T) {
		g := load(t, src)
		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g})
		require.NoError(t, s.Run())
		first, edges := s.Dump(), g.NumEdges()

		require.NoError(t, s.Run())
		assert.Equal(t, 0, s.Stats().Dequeues)
		assert.Equal(t, 0, s.Stats().Synthesized)
		assert.Equal(t, edges, g.NumEdges(), "no parallel copy edges")
		assert.Equal(t, first, s.Dump())
	})

	t.Run("Incremental", func(t *testing.T) {
		g := load(t, src)
		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g})
		require.NoError(t, s.Run())
		before := s.Dump()

		n := ids(g)
		z := g.NewObject("z", 0)
		w := g.NewValue("w")
		g.AddressOf(n["q"], z)
		g.Assign(w, n["r"])

		require.NoError(t, s.Run())
		assert.Equal(t, []andersen.NodeID{n["y"], z}, s.PointsTo(n["x"]))
		assert.Equal(t, []andersen.NodeID{n["y"], z}, s.PointsTo(w))

		for _, e := range before {
			assert.True(t, slices.Subset(e.PointsTo, s.PointsTo(e.Node)),
				"points-to set of %v shrank", e.Node)
		}
	})

	t.Run("NotSolved", func(t *testing.T) {
		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: load(t, src)})
		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { s.PointsTo(0) })
		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { s.Dump() })
		assert.Panics(t, func() { andersen.NewSolver(andersen.AnalysisConfig{}) })
	})

	t.Run("ResultAfterFailedRun", func(t *testing.T) {
		g := load(t, `
values: [p, f]
objects: [{name: s, fields: 2}]
constraints: [p = &s]`)

		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g})
		require.NoError(t, s.Run())
		res := s.Result()
		n := ids(g)
		assert.Equal(t, []andersen.NodeID{n["s"]}, res.PointsTo(n["p"]))

		g.FieldAddr(n["f"], n["p"], 2, "")
		require.ErrorIs(t, s.Run(), andersen.ErrFieldObject)

		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { res.PointsTo(n["p"]) })
		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { res.Dump() })
		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { res.MayAlias(n["p"], n["f"]) })
	})

	t.Run("FieldObjectError", func(t *testing.T) {
		g := load(t, `
values: [p, f]
objects: [{name: s, fields: 2}]
constraints: [p = &s, f = &p->2]`)

		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g})
		err := s.Run()
		require.Error(t, err)
		assert.ErrorIs(t, err, andersen.ErrFieldObject)
		assert.ErrorIs(t, err, constraint.ErrFieldOutOfRange)

		var ferr *andersen.FieldObjectError
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, ids(g)["s"], ferr.Obj)
		assert.Equal(t, constraint.Gep, ferr.Edge.Kind)

		assert.PanicsWithValue(t, andersen.ErrNotSolved, func() { s.PointsTo(0) })

		again := s.Run()
		assert.Equal(t, err.Error(), again.Error(), "running again reproduces the error")

		_, err = andersen.Analyze(andersen.AnalysisConfig{Graph: g})
		assert.ErrorIs(t, err, andersen.ErrFieldObject)
	})
}

// recorder checks that every fact is discovered exactly once.
type recorder struct {
	facts       map[[2]andersen.NodeID]int
	synthesized int
	fixpoints   []andersen.Stats
}

func (r *recorder) FactDiscovered(ptr, obj andersen.NodeID) {
	r.facts[[2]andersen.NodeID{ptr, obj}]++
}

func (r *recorder) EdgeSynthesized(src, dst andersen.NodeID, via andersen.EdgeID) {
	r.synthesized++
}

func (r *recorder) FixpointReached(stats andersen.Stats) {
	r.fixpoints = append(r.fixpoints, stats)
}

var configs = []gen.Config{
	{Values: 5, Objects: 3, Constraints: 12},
	{Values: 20, Bases: 4, Objects: 8, Fields: 3, Constraints: 60},
	{Values: 50, Bases: 10, Objects: 20, Fields: 2, Constraints: 200},
	{Values: 100, Objects: 30, Constraints: 400},
}

func TestProperties(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		cfg := configs[seed%int64(len(configs))]
		file := gen.File(rng, cfg)

		g, err := file.Build()
		require.NoError(t, err)

		rec := &recorder{facts: make(map[[2]andersen.NodeID]int)}
		s := andersen.NewSolver(andersen.AnalysisConfig{Graph: g, Observer: rec})
		require.NoError(t, s.Run(), "seed %d", seed)
		stats := s.Stats()

		// Monotonicity: every discovered fact is reported once and survives.
		total := 0
		for fact, count := range rec.facts {
			assert.Equal(t, 1, count, "seed %d: fact %v reported more than once", seed, fact)
			assert.Contains(t, s.PointsTo(fact[0]), fact[1], "seed %d", seed)
		}
		for _, e := range s.Dump() {
			total += len(e.PointsTo)
		}
		assert.Equal(t, total, len(rec.facts), "seed %d: every fact is reported", seed)
		assert.Equal(t, stats.Facts, total)
		assert.Equal(t, stats.Synthesized, rec.synthesized)
		assert.Equal(t, []andersen.Stats{stats}, rec.fixpoints)

		// Termination bound.
		objects := 0
		for i := 0; i < g.NumNodes(); i++ {
			if g.Node(constraint.NodeID(i)).Kind == constraint.ObjectNode {
				objects++
			}
		}
		assert.LessOrEqual(t, stats.Dequeues, g.NumNodes()*objects+stats.Synthesized,
			"seed %d", seed)

		// Order independence.
		want := solution(g, s.Result())
		for i := 0; i < 3; i++ {
			shuffled, err := gen.Shuffle(rng, file).Build()
			require.NoError(t, err)
			res, err := andersen.Analyze(andersen.AnalysisConfig{Graph: shuffled})
			require.NoError(t, err)

			if diff := cmp.Diff(want, solution(shuffled, res)); diff != "" {
				t.Errorf("seed %d: solution depends on constraint order (-want +got):\n%s", seed, diff)
			}
		}
	}
}

func TestLogObserver(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	g := load(t, `
values: [p, q, r]
objects: [{name: x}]
constraints: [p = &x, q = &x, "*p = q", r = *q]`)
	_, err := andersen.Analyze(andersen.AnalysisConfig{
		Graph:    g,
		Observer: andersen.NewLogObserver(logger),
	})
	require.NoError(t, err)

	msgs := map[string]int{}
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, log.DebugLevel, entry.Level)
		msgs[entry.Message]++
	}

	// p, q, x, r all point to x.
	assert.Equal(t, 4, msgs["Fact discovered"])
	// q -> x and x -> r.
	assert.Equal(t, 2, msgs["Copy edge synthesized"])
	assert.Equal(t, 1, msgs["Fixpoint reached"])

	last := hook.LastEntry()
	assert.Equal(t, 4, last.Data["facts"])
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
