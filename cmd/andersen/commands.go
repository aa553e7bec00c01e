package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/constraint"
	"github.com/BarrensZeppelin/andersen/dump"
	"github.com/BarrensZeppelin/andersen/internal/slices"
	"github.com/BarrensZeppelin/andersen/pkgutil"
	"github.com/BarrensZeppelin/andersen/ssagen"
	"github.com/briandowns/spinner"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

var ErrUsage = errors.New("usage")

var solveCommand = cli.Command{
	Name:      "solve",
	Usage:     "solve constraint graphs and print their points-to sets",
	ArgsUsage: "GRAPH...",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "trace", Usage: "log every discovered fact"},
		cli.StringFlag{Name: "snapshot", Usage: "store the solution in `FILE`"},
		cli.IntFlag{Name: "jobs, j", Usage: "solve up to `N` graphs concurrently"},
		cli.BoolFlag{Name: "progress", Usage: "show a spinner while solving"},
	},
	Action: solve,
}

var goCommand = cli.Command{
	Name:      "go",
	Usage:     "analyse Go packages and print the points-to sets of their values",
	ArgsUsage: "PATTERN...",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "dir", Usage: "run the go build tool in `DIR`"},
		cli.BoolFlag{Name: "tests", Usage: "include test packages"},
		cli.BoolFlag{Name: "methods", Usage: "treat methods of runtime types as roots"},
		cli.BoolFlag{Name: "trace", Usage: "log every discovered fact"},
		cli.StringFlag{Name: "snapshot", Usage: "store the solution in `FILE`"},
	},
	Action: analyzeGo,
}

var statsCommand = cli.Command{
	Name:      "stats",
	Usage:     "print the size and the copy cycles of constraint graphs",
	ArgsUsage: "GRAPH...",
	Action:    stats,
}

var showCommand = cli.Command{
	Name:      "show",
	Usage:     "print a stored solution",
	ArgsUsage: "SNAPSHOT",
	Action:    show,
}

func loadGraph(path string) (*constraint.Graph, error) {
	g, err := constraint.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.MaxFieldOffset > 0 {
		g.MaxFieldOffset = cfg.MaxFieldOffset
	}
	if cfg.MaxFieldDepth > 0 {
		g.MaxFieldDepth = cfg.MaxFieldDepth
	}
	return g, nil
}

func analyze(g andersen.Graph, trace bool, logger log.FieldLogger) (*andersen.Result, error) {
	config := andersen.AnalysisConfig{Graph: g}
	if trace || cfg.Trace {
		config.Observer = andersen.NewLogObserver(logger)
	}

	res, err := andersen.Analyze(config)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"dequeues":    res.Stats.Dequeues,
		"synthesized": res.Stats.Synthesized,
		"facts":       res.Stats.Facts,
	}).Info("Solved")
	return res, nil
}

type solved struct {
	path  string
	graph *constraint.Graph
	res   *andersen.Result
}

func solve(c *cli.Context) error {
	paths := c.Args()
	if len(paths) == 0 {
		return errors.Wrap(ErrUsage, "no constraint graphs given")
	}
	snapshot := c.String("snapshot")
	if snapshot != "" && len(paths) > 1 {
		return errors.Wrap(ErrUsage, "--snapshot needs a single graph")
	}

	jobs := cfg.Jobs
	if c.IsSet("jobs") {
		jobs = c.Int("jobs")
	}
	if jobs < 1 {
		return errors.Wrapf(ErrUsage, "--jobs must be positive, got %d", jobs)
	}

	if c.Bool("progress") {
		spin := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = fmt.Sprintf(" solving %d graphs", len(paths))
		spin.Start()
		defer spin.Stop()
	}

	results := make([]solved, len(paths))
	var eg errgroup.Group
	eg.SetLimit(jobs)
	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			g, err := loadGraph(path)
			if err != nil {
				return err
			}
			res, err := analyze(g, c.Bool("trace"), log.WithField("graph", path))
			if err != nil {
				return errors.Wrap(err, path)
			}
			results[i] = solved{path, g, res}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	w := c.App.Writer
	for i, s := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "# %s\n", s.path)
		}
		if err := dump.Write(w, s.res.Dump(), s.graph.Name, dump.Options{Color: cfg.Color}); err != nil {
			return err
		}
	}

	if snapshot != "" {
		return writeSnapshot(snapshot, dump.NewSnapshot(results[0].res, results[0].graph.Name))
	}
	return nil
}

func writeSnapshot(path string, s *dump.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating snapshot")
	}
	if err := dump.WriteSnapshot(f, s); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing snapshot")
}

func analyzeGo(c *cli.Context) error {
	if len(c.Args()) == 0 {
		return errors.Wrap(ErrUsage, "specify a package query on the command line")
	}

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: c.Bool("tests"),
		Dir:   c.String("dir"),
	}, c.Args()...)
	if err != nil {
		return err
	}
	log.Infof("Loaded %d packages", len(pkgs))

	prog, _ := pkgutil.BuildSSA(pkgs, 0)
	log.Info("Built packages")

	p := ssagen.Generate(ssagen.Config{
		Program:             prog,
		TreatMethodsAsRoots: c.Bool("methods"),
	})
	log.WithFields(log.Fields{
		"functions": len(p.Reachable),
		"nodes":     p.Graph.NumNodes(),
		"edges":     p.Graph.NumEdges(),
	}).Info("Generated constraints")

	res, err := analyze(p.Graph, c.Bool("trace"), log.StandardLogger())
	if err != nil {
		return err
	}

	namer := func(n andersen.NodeID) string {
		if l, ok := p.Label(n); ok {
			return l.String()
		}
		return p.Graph.Name(n)
	}

	values := p.Values()
	only := slices.Map(values, func(v ssa.Value) andersen.NodeID {
		n, _ := p.Pointer(v)
		return n
	})
	if len(only) == 0 {
		log.Warn("No pointer-like values in the reachable functions")
		return nil
	}
	if err := dump.Write(c.App.Writer, res.Dump(), namer, dump.Options{Color: cfg.Color, Only: only}); err != nil {
		return err
	}

	if path := c.String("snapshot"); path != "" {
		return writeSnapshot(path, dump.NewSnapshot(res, namer))
	}
	return nil
}

func stats(c *cli.Context) error {
	if len(c.Args()) == 0 {
		return errors.Wrap(ErrUsage, "no constraint graphs given")
	}

	w := c.App.Writer
	for _, path := range c.Args() {
		g, err := loadGraph(path)
		if err != nil {
			return err
		}
		printStats(w, path, g)
	}
	return nil
}

func printStats(w io.Writer, path string, g *constraint.Graph) {
	counts := g.CountEdges()
	kinds := make([]string, constraint.NumKinds)
	for k := range kinds {
		kinds[k] = fmt.Sprintf("%v=%d", constraint.EdgeKind(k), counts[k])
	}
	fmt.Fprintf(w, "%s: %d nodes, %d edges (%s)\n", path, g.NumNodes(), g.NumEdges(), strings.Join(kinds, " "))

	for _, cycle := range g.CopyCycles() {
		fmt.Fprintf(w, "  copy cycle: %s\n", strings.Join(slices.Map(cycle, g.Name), " "))
	}
}

func show(c *cli.Context) error {
	if len(c.Args()) != 1 {
		return errors.Wrap(ErrUsage, "expected a single snapshot")
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "opening snapshot")
	}
	defer f.Close()

	s, err := dump.ReadSnapshot(f)
	if err != nil {
		return err
	}
	return dump.Write(c.App.Writer, s.Entries, s.Name, dump.Options{Color: cfg.Color})
}
