package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Elector reports whether this instance may fire Pass and End.
type Elector interface {
	IsLeader() bool
}

// TickObserver receives every clock tick of a running round.
type TickObserver interface {
	OnTick(Tick)
}

// Tick is the countdown state of a running round.
type Tick struct {
	Round            string  `json:"round"`
	RemainingSec     int     `json:"remaining_sec"`
	UntilNextPassSec float64 `json:"until_next_pass_sec"`
	Leader           bool    `json:"leader"`
}

// roundClock is the per-round timer state. Guarded by Driver.mu.
type roundClock struct {
	round     string
	startTime time.Time
	passSeq   int
	untilNext float64
	ended     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Driver runs the game clock and the pass clock of the session. Every
// instance counts down, only the elected one fires transitions.
type Driver struct {
	app        *App
	elector    Elector
	observer   TickObserver
	clock      clockwork.Clock
	instanceID string

	mu       sync.Mutex
	current  *roundClock
	lastTick Tick
}

// NewDriver creates a driver for app. observer may be nil.
func NewDriver(app *App, elector Elector, observer TickObserver) *Driver {
	return &Driver{
		app:        app,
		elector:    elector,
		observer:   observer,
		clock:      app.clock,
		instanceID: uuid.New().String()[:8],
	}
}

// Run follows the session until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	updates, err := d.app.Subscribe(ctx)
	if err != nil {
		return err
	}

	log.Info().Str("instance", d.instanceID).Str("session", d.app.Key()).Msg("session driver started")

	// The store only announces writes; pick up a round that was already running.
	if s, err := d.app.State(ctx); err == nil {
		d.observe(ctx, s)
	}

	for {
		select {
		case <-ctx.Done():
			d.disarm()
			log.Info().Str("instance", d.instanceID).Msg("session driver stopped")
			return nil
		case s, ok := <-updates:
			if !ok {
				d.disarm()
				return ctx.Err()
			}
			d.observe(ctx, s)
		}
	}
}

// observe arms the clocks for a newly started round and tears them down when it is over.
func (d *Driver) observe(ctx context.Context, s *models.GameSession) {
	playing := s.Status == models.SessionStatusPlaying && s.StartTime != nil

	d.mu.Lock()
	rc := d.current
	if playing && rc != nil && rc.round == s.Round {
		if s.PassSeq > rc.passSeq {
			rc.passSeq = s.PassSeq
		}
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.disarm()
	if !playing {
		return
	}

	rules := d.app.Rules()
	clockCtx, cancel := context.WithCancel(ctx)
	rc = &roundClock{
		round:     s.Round,
		startTime: *s.StartTime,
		passSeq:   s.PassSeq,
		untilNext: drawInterval(d.app.picker, rules.PassIntervalMin, rules.PassIntervalMax).Seconds(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	d.current = rc
	d.mu.Unlock()

	log.Info().
		Str("instance", d.instanceID).
		Str("round_id", rc.round).
		Float64("until_next_pass", rc.untilNext).
		Msg("round clocks armed")

	go d.runClocks(clockCtx, rc)
}

// disarm stops the clocks of the current round and waits for them to exit.
func (d *Driver) disarm() {
	d.mu.Lock()
	rc := d.current
	d.current = nil
	d.mu.Unlock()

	if rc == nil {
		return
	}
	rc.cancel()
	<-rc.done
	log.Debug().Str("instance", d.instanceID).Str("round_id", rc.round).Msg("round clocks stopped")
}

func (d *Driver) runClocks(ctx context.Context, rc *roundClock) {
	defer close(rc.done)

	rules := d.app.Rules()
	gameTicker := d.clock.NewTicker(rules.GameTick)
	defer gameTicker.Stop()
	passTicker := d.clock.NewTicker(rules.PassTick)
	defer passTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gameTicker.Chan():
			d.gameTick(ctx, rc)
		case <-passTicker.Chan():
			d.passTick(ctx, rc)
		}
	}
}

// gameTick fires End when the countdown reaches zero. End is retried on later
// ticks until it lands or the round is known to be over, so a follower that
// takes over after the deadline still finishes the round.
func (d *Driver) gameTick(ctx context.Context, rc *roundClock) {
	remaining := d.remaining(rc)
	leader := d.elector.IsLeader()

	d.mu.Lock()
	fire := remaining == 0 && !rc.ended && leader
	d.mu.Unlock()

	if fire {
		_, err := d.app.End(ctx, rc.round)
		if err == nil || errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrNotPlaying) {
			d.mu.Lock()
			rc.ended = true
			d.mu.Unlock()
		}
		if err != nil {
			d.logRejected(err, rc.round, "end")
		}
	}
	d.emit(rc, remaining, leader)
}

// passTick counts the pass countdown down by one second and passes when it runs out.
func (d *Driver) passTick(ctx context.Context, rc *roundClock) {
	rules := d.app.Rules()
	leader := d.elector.IsLeader()

	remaining := d.remaining(rc)

	d.mu.Lock()
	if rc.ended || remaining == 0 {
		d.mu.Unlock()
		return
	}
	due := rc.untilNext <= 1
	seq := rc.passSeq
	if due {
		rc.untilNext = drawInterval(d.app.picker, rules.PassIntervalMin, rules.PassIntervalMax).Seconds()
	} else {
		rc.untilNext--
	}
	d.mu.Unlock()

	if due && leader {
		next, err := d.app.Pass(ctx, rc.round, seq)
		if err != nil {
			d.logRejected(err, rc.round, "pass")
		} else {
			d.mu.Lock()
			if next.PassSeq > rc.passSeq {
				rc.passSeq = next.PassSeq
			}
			d.mu.Unlock()
		}
	}
	d.emit(rc, remaining, leader)
}

func (d *Driver) remaining(rc *roundClock) int {
	total := int(d.app.Rules().GameDuration / time.Second)
	remaining := total - int(d.clock.Now().Sub(rc.startTime)/time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (d *Driver) emit(rc *roundClock, remaining int, leader bool) {
	d.mu.Lock()
	tick := Tick{Round: rc.round, RemainingSec: remaining, UntilNextPassSec: rc.untilNext, Leader: leader}
	d.lastTick = tick
	d.mu.Unlock()

	if d.observer != nil {
		d.observer.OnTick(tick)
	}
}

func (d *Driver) logRejected(err error, round, transition string) {
	if errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrNotPlaying) || errors.Is(err, ErrNoCandidates) {
		log.Debug().
			Err(err).
			Str("instance", d.instanceID).
			Str("round_id", round).
			Str("transition", transition).
			Msg("transition skipped")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Error().
		Err(err).
		Str("instance", d.instanceID).
		Str("round_id", round).
		Str("transition", transition).
		Msg("transition failed")
}

// Status returns the last tick and whether a round is being clocked.
func (d *Driver) Status() (Tick, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick, d.current != nil
}
