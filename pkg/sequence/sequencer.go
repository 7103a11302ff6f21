package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic order ids for one market.
// Two orders arriving in the same instant still get distinct ids, which
// a wall-clock source cannot guarantee.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer starting after a given value.
// On fresh start → start = 0
// On reload → start = last persisted id
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the sequencer to a specific value after a reload.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
