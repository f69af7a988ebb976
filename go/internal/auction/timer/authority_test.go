package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/auction/events/eventstest"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func newAuthority(t *testing.T) (*Authority, *clockwork.FakeClock, *eventstest.Recorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	rec := &eventstest.Recorder{}
	a := NewAuthority(clock, rec)
	t.Cleanup(a.Close)
	return a, clock, rec
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestCountdownTicksThenExpires(t *testing.T) {
	a, clock, rec := newAuthority(t)
	roundID := uuid.New()
	expired := make(chan struct{})

	a.Start(roundID, PhaseBidding, t0.Add(3*time.Second), func(ctx context.Context) {
		close(expired)
	})

	ticks := rec.WaitFor(t, events.TypeTimerTick, 1)
	first := eventstest.Decode[events.TimerTickPayload](t, ticks[0].Event)
	assert.Equal(t, "bidding", first.Phase)
	assert.Equal(t, 3, first.TimeRemainingSec)
	assert.Equal(t, roundID.String(), ticks[0].Event.RoundID)
	assert.True(t, ticks[0].To.Public())

	blockUntil(t, clock, 2)
	clock.Advance(time.Second)
	ticks = rec.WaitFor(t, events.TypeTimerTick, 2)
	assert.Equal(t, 2, eventstest.Decode[events.TimerTickPayload](t, ticks[1].Event).TimeRemainingSec)

	blockUntil(t, clock, 2)
	clock.Advance(time.Second)
	ticks = rec.WaitFor(t, events.TypeTimerTick, 3)
	assert.Equal(t, 1, eventstest.Decode[events.TimerTickPayload](t, ticks[2].Event).TimeRemainingSec)

	blockUntil(t, clock, 2)
	clock.Advance(time.Second)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not expire")
	}

	exp := rec.WaitFor(t, events.TypeTimerExpired, 1)
	assert.Equal(t, "bidding", eventstest.Decode[events.TimerExpiredPayload](t, exp[0].Event).Phase)

	_, ok := a.Active()
	assert.False(t, ok)
}

func TestStopPreventsExpiry(t *testing.T) {
	a, clock, rec := newAuthority(t)
	roundID := uuid.New()
	var fired atomic.Bool

	a.Start(roundID, PhaseAnswer, t0.Add(2*time.Second), func(ctx context.Context) { fired.Store(true) })
	rec.WaitFor(t, events.TypeTimerTick, 1)

	a.Stop(uuid.New())
	_, ok := a.Active()
	require.True(t, ok, "stop for another round must not cancel")

	a.Stop(roundID)
	_, ok = a.Active()
	require.False(t, ok)

	clock.Advance(5 * time.Second)
	assert.Never(t, fired.Load, 100*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, rec.OfType(events.TypeTimerExpired))
}

func TestStartReplacesActiveCountdown(t *testing.T) {
	a, clock, rec := newAuthority(t)
	first, second := uuid.New(), uuid.New()
	var firstFired atomic.Bool
	secondFired := make(chan struct{})

	a.Start(first, PhaseBidding, t0.Add(2*time.Second), func(ctx context.Context) { firstFired.Store(true) })
	a.Start(second, PhaseAnswer, t0.Add(4*time.Second), func(ctx context.Context) { close(secondFired) })

	active, ok := a.Active()
	require.True(t, ok)
	assert.Equal(t, second, active.RoundID)
	assert.Equal(t, PhaseAnswer, active.Phase)

	rec.WaitFor(t, events.TypeTimerTick, 1)
	clock.Advance(2 * time.Second)
	assert.Never(t, firstFired.Load, 100*time.Millisecond, 10*time.Millisecond)

	clock.Advance(2 * time.Second)
	select {
	case <-secondFired:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement countdown did not expire")
	}
}

func TestPastDeadlineExpiresImmediately(t *testing.T) {
	a, _, rec := newAuthority(t)
	expired := make(chan struct{})

	a.Start(uuid.New(), PhaseBidding, t0.Add(-time.Second), func(ctx context.Context) { close(expired) })

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("expired countdown did not fire")
	}
	assert.Empty(t, rec.OfType(events.TypeTimerTick))
	assert.Len(t, rec.OfType(events.TypeTimerExpired), 1)
}

func TestStartAfterCloseIsIgnored(t *testing.T) {
	a, _, _ := newAuthority(t)
	a.Close()

	a.Start(uuid.New(), PhaseBidding, t0.Add(time.Second), nil)
	_, ok := a.Active()
	assert.False(t, ok)
}

func TestSecondsLeft(t *testing.T) {
	tests := []struct {
		name string
		left time.Duration
		want int
	}{
		{"whole", 30 * time.Second, 30},
		{"rounds up", 29*time.Second + time.Millisecond, 30},
		{"just under one", 400 * time.Millisecond, 1},
		{"zero", 0, 0},
		{"past", -3 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SecondsLeft(t0.Add(tt.left), t0))
		})
	}
}

func TestTickQueuedBehindStopIsDropped(t *testing.T) {
	a, _, rec := newAuthority(t)
	roundID := uuid.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	// Hold the commit path the way a closing transition does.
	go func() {
		defer close(done)
		_ = rec.Commit(func(p events.Publisher) error {
			close(entered)
			<-release
			a.Stop(roundID)
			return nil
		})
	}()
	<-entered

	a.Start(roundID, PhaseBidding, t0.Add(5*time.Second), nil)
	close(release)
	<-done

	assert.Never(t, func() bool { return len(rec.OfType(events.TypeTimerTick)) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
