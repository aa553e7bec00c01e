package andersen

import (
	log "github.com/sirupsen/logrus"
)

// Observer receives the events of a solver run. Every fact is reported
// exactly once, in the order it is discovered.
type Observer interface {
	FactDiscovered(ptr, obj NodeID)
	EdgeSynthesized(src, dst NodeID, via EdgeID)
	FixpointReached(Stats)
}

type logObserver struct {
	log log.FieldLogger
}

// NewLogObserver returns an Observer that traces solver events to logger at
// debug level. A nil logger means the standard logger.
func NewLogObserver(logger log.FieldLogger) Observer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return logObserver{logger}
}

func (o logObserver) FactDiscovered(ptr, obj NodeID) {
	o.log.WithFields(log.Fields{"ptr": ptr, "obj": obj}).Debug("Fact discovered")
}

func (o logObserver) EdgeSynthesized(src, dst NodeID, via EdgeID) {
	o.log.WithFields(log.Fields{"src": src, "dst": dst, "via": via}).Debug("Copy edge synthesized")
}

func (o logObserver) FixpointReached(stats Stats) {
	o.log.WithFields(log.Fields{
		"dequeues":    stats.Dequeues,
		"synthesized": stats.Synthesized,
		"facts":       stats.Facts,
	}).Debug("Fixpoint reached")
}
