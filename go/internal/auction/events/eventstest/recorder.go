// Package eventstest provides a recording publisher for tests.
package eventstest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/auction/events"
)

// Published is one recorded delivery
type Published struct {
	To    events.Audience
	Event *events.Event
}

// Recorder captures everything published to it. It also serves as a
// Committer, serializing commits the way the Sequencer does.
type Recorder struct {
	mu        sync.Mutex
	commitMu  sync.Mutex
	published []Published
}

func (r *Recorder) Commit(fn func(p events.Publisher) error) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	return fn(r)
}

func (r *Recorder) Publish(to events.Audience, event *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, Published{To: to, Event: event})
}

// All returns a snapshot of every delivery so far.
func (r *Recorder) All() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.published...)
}

// OfType returns the deliveries of type t in publish order.
func (r *Recorder) OfType(t events.Type) []Published {
	var out []Published
	for _, p := range r.All() {
		if p.Event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []events.Type {
	all := r.All()
	out := make([]events.Type, len(all))
	for i, p := range all {
		out[i] = p.Event.Type
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = nil
}

// WaitFor blocks until at least n events of type t were published.
func (r *Recorder) WaitFor(tb testing.TB, t events.Type, n int) []Published {
	tb.Helper()
	require.Eventually(tb, func() bool {
		return len(r.OfType(t)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events", n, t)
	return r.OfType(t)
}

// Decode unmarshals the event payload into T.
func Decode[T any](tb testing.TB, e *events.Event) T {
	tb.Helper()
	var v T
	require.NoError(tb, json.Unmarshal(e.Data, &v))
	return v
}
