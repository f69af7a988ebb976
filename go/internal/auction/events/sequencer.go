package events

import "sync"

// Committer runs a state change together with the events that report it.
// Events emitted inside fn leave before any other commit starts, so
// subscribers see them in the order the changes committed.
type Committer interface {
	Commit(fn func(p Publisher) error) error
}

// Sequencer is the process-wide Committer. Every event it forwards carries
// a strictly increasing Seq.
type Sequencer struct {
	mu   sync.Mutex
	last uint64
	out  Publisher
}

func NewSequencer(out Publisher) *Sequencer {
	return &Sequencer{out: out}
}

// Commit runs fn while holding the sequencer. p is only valid inside fn.
func (s *Sequencer) Commit(fn func(p Publisher) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(sequenced{s})
}

// Publish stamps and forwards a single event outside any commit.
func (s *Sequencer) Publish(to Audience, event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward(to, event)
}

// Last returns the Seq of the most recently forwarded event.
func (s *Sequencer) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sequencer) forward(to Audience, event *Event) {
	s.last++
	event.Seq = s.last
	if s.out != nil {
		s.out.Publish(to, event)
	}
}

// sequenced publishes with the sequencer already held
type sequenced struct{ s *Sequencer }

func (q sequenced) Publish(to Audience, event *Event) {
	q.s.forward(to, event)
}
