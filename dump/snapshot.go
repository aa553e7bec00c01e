package dump

import (
	"encoding/gob"
	"io"

	"github.com/BarrensZeppelin/andersen"
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

// Snapshot is a stored solution: the non-empty points-to sets and the labels
// of the nodes they mention.
type Snapshot struct {
	Entries []andersen.Entry
	Names   map[andersen.NodeID]string
	Stats   andersen.Stats
}

var ErrSnapshot = errors.New("invalid snapshot")

// NewSnapshot captures the solution of res, labelling nodes with namer.
func NewSnapshot(res *andersen.Result, namer Namer) *Snapshot {
	s := &Snapshot{
		Entries: res.Dump(),
		Names:   make(map[andersen.NodeID]string),
		Stats:   res.Stats,
	}
	for _, e := range s.Entries {
		s.Names[e.Node] = label(namer, e.Node)
		for _, o := range e.PointsTo {
			s.Names[o] = label(namer, o)
		}
	}
	return s
}

// Name returns the stored label of n.
func (s *Snapshot) Name(n andersen.NodeID) string {
	if name, found := s.Names[n]; found {
		return name
	}
	return label(nil, n)
}

// WriteSnapshot gob-encodes s into w, compressed with s2.
func WriteSnapshot(w io.Writer, s *Snapshot) (err error) {
	writer := s2.NewWriter(w)
	defer func() {
		if cerr := writer.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "compressing snapshot")
		}
	}()

	return errors.Wrap(gob.NewEncoder(writer).Encode(s), "encoding snapshot")
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(s2.NewReader(r)).Decode(&s); err != nil {
		return nil, errors.Wrapf(ErrSnapshot, "%v", err)
	}
	return &s, nil
}
