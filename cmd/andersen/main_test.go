package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const loadStore = `
values: [p, q, r]
objects: [{name: x}, {name: y}]
constraints:
  - p = &x
  - q = &y
  - "*p = q"
  - r = *p
`

const cycle = `
values: [a, b, c]
objects: [{name: o}]
constraints:
  - a = &o
  - b = a
  - c = b
  - a = c
`

func graph(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "graph.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(append([]string{"andersen", "--no-color", "--log-level", "error"}, args...))
	return buf.String(), err
}

func TestSolve(t *testing.T) {
	t.Run("Single", func(t *testing.T) {
		out, err := run(t, "solve", graph(t, loadStore))
		require.NoError(t, err)
		assert.Equal(t, "p = {x}\nq = {y}\nr = {y}\nx = {y}\n", out)
	})

	t.Run("Several", func(t *testing.T) {
		a, b := graph(t, loadStore), graph(t, cycle)
		out, err := run(t, "solve", "--jobs", "2", a, b)
		require.NoError(t, err)
		assert.Equal(t,
			"# "+a+"\np = {x}\nq = {y}\nr = {y}\nx = {y}\n\n# "+b+"\na = {o}\nb = {o}\nc = {o}\n",
			out, "output follows the order of the arguments")
	})

	t.Run("FieldObjectError", func(t *testing.T) {
		path := graph(t, `
values: [p, f]
objects: [{name: s, fields: 2}]
constraints:
  - p = &s
  - f = &p->5
`)
		_, err := run(t, "solve", path)
		assert.ErrorContains(t, err, "unresolvable field object")
	})

	t.Run("NoGraphs", func(t *testing.T) {
		_, err := run(t, "solve")
		assert.ErrorIs(t, err, ErrUsage)
	})

	t.Run("Snapshot", func(t *testing.T) {
		snapshot := filepath.Join(t.TempDir(), "solution.s2")
		_, err := run(t, "solve", "--snapshot", snapshot, graph(t, loadStore))
		require.NoError(t, err)

		out, err := run(t, "show", snapshot)
		require.NoError(t, err)
		assert.Equal(t, "p = {x}\nq = {y}\nr = {y}\nx = {y}\n", out)
	})
}

func TestGo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/demo\n\ngo 1.18\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(`package main

func main() {
	x := new(int)
	y := x
	println(y)
}
`), 0o600))

	out, err := run(t, "go", "--dir", dir, ".")
	require.NoError(t, err)
	assert.Contains(t, out, "example.com_demo.main.t0 = {example.com/demo.main: t0 = new int")

	t.Run("NoPatterns", func(t *testing.T) {
		_, err := run(t, "go")
		assert.ErrorIs(t, err, ErrUsage)
	})
}

func TestStats(t *testing.T) {
	path := graph(t, cycle)
	out, err := run(t, "stats", path)
	require.NoError(t, err)
	assert.Equal(t,
		path+": 4 nodes, 4 edges (addr=1 copy=3 load=0 store=0 gep=0)\n  copy cycle: a b c\n",
		out)
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "andersen.yml")
	require.NoError(t, os.WriteFile(path, []byte("maxFieldOffset: 1\n"), 0o600))

	// The configured bound rejects offset 2, which the graph itself allows.
	g := graph(t, `
values: [p, f]
objects: [{name: s}]
constraints:
  - p = &s
  - f = &p->2
`)
	_, err := run(t, "--config", path, "solve", g)
	assert.ErrorContains(t, err, "out of range")

	out, err := run(t, "solve", g)
	require.NoError(t, err, "settings do not outlive a run")
	assert.Equal(t, "p = {s}\nf = {s.#2}\n", out)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
