// Package dump renders solver results and stores them as snapshots.
package dump

import (
	"fmt"
	"io"
	"strings"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/internal/maps"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// Namer labels nodes in the output.
type Namer func(andersen.NodeID) string

type Options struct {
	// Color highlights pointers and objects.
	Color bool
	// Only restricts the output to the given nodes when non-empty.
	Only []andersen.NodeID
}

// Write prints one line per entry. Without a namer the lines have the form
//
//	pts[3] = {1 2}
//
// and with one they read "p = {x y}".
func Write(w io.Writer, entries []andersen.Entry, namer Namer, opts Options) error {
	ptr, obj := color.New(color.FgCyan, color.Bold), color.New(color.FgYellow)
	for _, c := range []*color.Color{ptr, obj} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	only := maps.FromKeys(opts.Only)
	for _, e := range entries {
		if _, found := only[e.Node]; len(only) > 0 && !found {
			continue
		}

		objs := make([]string, len(e.PointsTo))
		for i, o := range e.PointsTo {
			objs[i] = obj.Sprint(label(namer, o))
		}

		var err error
		if namer == nil {
			_, err = fmt.Fprintf(w, "pts[%s] = {%s}\n", ptr.Sprint(uint32(e.Node)), strings.Join(objs, " "))
		} else {
			_, err = fmt.Fprintf(w, "%s = {%s}\n", ptr.Sprint(namer(e.Node)), strings.Join(objs, " "))
		}
		if err != nil {
			return errors.Wrap(err, "writing points-to sets")
		}
	}
	return nil
}

func label(namer Namer, n andersen.NodeID) string {
	if namer == nil {
		return fmt.Sprint(uint32(n))
	}
	return namer(n)
}
