package queue

import "errors"

// Queue is a FIFO work list with set semantics: an element that is already
// pending is not enqueued a second time.
// The zero value is an empty queue ready for use.
type Queue[E comparable] struct {
	elements []E
	pending  map[E]struct{}
}

// Push appends e to the queue unless it is already pending. It reports
// whether e was added.
func (q *Queue[E]) Push(e E) bool {
	if _, found := q.pending[e]; found {
		return false
	}

	if q.pending == nil {
		q.pending = make(map[E]struct{})
	}

	q.pending[e] = struct{}{}
	q.elements = append(q.elements, e)
	return true
}

func (q *Queue[E]) Empty() bool {
	return len(q.elements) == 0
}

func (q *Queue[E]) Len() int {
	return len(q.elements)
}

// Has reports whether e is pending.
func (q *Queue[E]) Has(e E) bool {
	_, found := q.pending[e]
	return found
}

var ErrEmpty = errors.New("Queue is empty")

// Pop removes and returns the oldest pending element. Popping an empty queue
// is a scheduling bug and panics with ErrEmpty.
func (q *Queue[E]) Pop() E {
	if q.Empty() {
		panic(ErrEmpty)
	}

	e := q.elements[0]
	var zero E
	q.elements[0] = zero
	q.elements = q.elements[1:]
	delete(q.pending, e)
	return e
}
