// Package timer owns the server-side countdowns. Clients only render the
// ticks; expiry here is what actually moves a round forward.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auction/events"
)

// Phase names the window being counted down
type Phase string

const (
	PhaseBidding Phase = "bidding"
	PhaseAnswer  Phase = "answer"
)

// DefaultTickInterval is how often timer:tick is broadcast.
const DefaultTickInterval = time.Second

// ExpireFunc runs once when a countdown reaches its deadline while still
// active. It must re-check round state before acting.
type ExpireFunc func(ctx context.Context)

// Countdown describes the active countdown
type Countdown struct {
	RoundID  uuid.UUID
	Phase    Phase
	Deadline time.Time
}

type countdown struct {
	Countdown
	cancel context.CancelFunc
}

// Authority runs at most one countdown at a time
type Authority struct {
	clock     clockwork.Clock
	commits   events.Committer
	tickEvery time.Duration

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	active *countdown
}

// NewAuthority creates an authority publishing ticks through commits.
func NewAuthority(clock clockwork.Clock, commits events.Committer) *Authority {
	ctx, stop := context.WithCancel(context.Background())
	return &Authority{
		clock:     clock,
		commits:   commits,
		tickEvery: DefaultTickInterval,
		ctx:       ctx,
		stop:      stop,
	}
}

// Start replaces any active countdown with one ending at deadline. A
// deadline already in the past expires immediately.
func (a *Authority) Start(roundID uuid.UUID, phase Phase, deadline time.Time, onExpire ExpireFunc) {
	ctx, cancel := context.WithCancel(a.ctx)
	cd := &countdown{
		Countdown: Countdown{RoundID: roundID, Phase: phase, Deadline: deadline},
		cancel:    cancel,
	}

	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		cancel()
		return
	}
	if a.active != nil {
		a.active.cancel()
		log.Debug().
			Str("round_id", a.active.RoundID.String()).
			Str("phase", string(a.active.Phase)).
			Msg("replaced active countdown")
	}
	a.active = cd
	a.wg.Add(1)
	a.mu.Unlock()

	log.Info().
		Str("round_id", roundID.String()).
		Str("phase", string(phase)).
		Time("deadline", deadline).
		Dur("remaining", deadline.Sub(a.clock.Now())).
		Msg("countdown started")

	go a.run(ctx, cd, onExpire)
}

// Stop cancels the active countdown if it belongs to roundID.
func (a *Authority) Stop(roundID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.RoundID != roundID {
		return
	}
	a.active.cancel()
	a.active = nil
	log.Debug().Str("round_id", roundID.String()).Msg("countdown cancelled")
}

// Cancel stops whatever countdown is running.
func (a *Authority) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.active.cancel()
		a.active = nil
	}
}

// Active returns the running countdown, if any.
func (a *Authority) Active() (Countdown, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		return Countdown{}, false
	}
	return a.active.Countdown, true
}

// Close cancels everything and waits for countdown goroutines to exit.
func (a *Authority) Close() {
	a.mu.Lock()
	a.stop()
	a.active = nil
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Authority) run(ctx context.Context, cd *countdown, onExpire ExpireFunc) {
	defer a.wg.Done()
	defer cd.cancel()

	if ctx.Err() != nil {
		return
	}
	remaining := cd.Deadline.Sub(a.clock.Now())
	if remaining <= 0 {
		a.expire(ctx, cd, onExpire)
		return
	}

	timer := a.clock.NewTimer(remaining)
	defer stopAndDrainTimer(timer)
	ticker := a.clock.NewTicker(a.tickEvery)
	defer ticker.Stop()

	a.tick(cd)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.tick(cd)
		case <-timer.Chan():
			a.expire(ctx, cd, onExpire)
			return
		}
	}
}

func (a *Authority) tick(cd *countdown) {
	_ = a.commits.Commit(func(p events.Publisher) error {
		// A transition that stopped this countdown may have committed first.
		if !a.isActive(cd) {
			return nil
		}
		now := a.clock.Now()
		events.Emit(p, events.ToAll(), events.TypeTimerTick, cd.RoundID, events.TimerTickPayload{
			Phase:            string(cd.Phase),
			TimeRemainingSec: SecondsLeft(cd.Deadline, now),
			DeadlineAt:       cd.Deadline,
			TickedAt:         now,
		})
		return nil
	})
}

func (a *Authority) isActive(cd *countdown) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active == cd
}

func (a *Authority) expire(ctx context.Context, cd *countdown, onExpire ExpireFunc) {
	a.mu.Lock()
	if a.active != cd {
		a.mu.Unlock()
		return
	}
	a.active = nil
	a.mu.Unlock()

	log.Info().
		Str("round_id", cd.RoundID.String()).
		Str("phase", string(cd.Phase)).
		Msg("countdown expired")

	_ = a.commits.Commit(func(p events.Publisher) error {
		events.Emit(p, events.ToAll(), events.TypeTimerExpired, cd.RoundID, events.TimerExpiredPayload{
			Phase:     string(cd.Phase),
			ExpiredAt: a.clock.Now(),
		})
		return nil
	})
	if onExpire != nil {
		onExpire(ctx)
	}
}

// SecondsLeft rounds the time until deadline up to whole seconds, never
// below zero.
func SecondsLeft(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
