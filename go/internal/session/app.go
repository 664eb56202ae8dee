package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/events"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/payment"
	"github.com/mcdev12/hotpotato/go/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const publishTimeout = 10 * time.Second

// EventPublisher defines what the app needs from the event bus
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// RoundRecorder archives finished rounds
type RoundRecorder interface {
	RecordRound(ctx context.Context, record models.RoundRecord) error
}

// App is the session state machine. Every transition is an optimistic
// read-modify-write against the shared store, rebased on revision conflicts.
type App struct {
	key       string
	store     store.Store
	payments  payment.Gateway
	rules     Rules
	clock     clockwork.Clock
	picker    Picker
	publisher EventPublisher
	recorder  RoundRecorder

	newPlayerID func() string
	newRoundID  func() string

	// Participants with a charge in flight
	joining   map[string]bool
	joiningMu sync.Mutex

	settling sync.WaitGroup
}

// Option configures an App
type Option func(*App)

func WithClock(c clockwork.Clock) Option      { return func(a *App) { a.clock = c } }
func WithPicker(p Picker) Option              { return func(a *App) { a.picker = p } }
func WithPublisher(p EventPublisher) Option   { return func(a *App) { a.publisher = p } }
func WithRecorder(r RoundRecorder) Option     { return func(a *App) { a.recorder = r } }
func WithPlayerIDs(next func() string) Option { return func(a *App) { a.newPlayerID = next } }
func WithRoundIDs(next func() string) Option  { return func(a *App) { a.newRoundID = next } }

// NewApp creates the state machine for the session stored under key
func NewApp(key string, st store.Store, payments payment.Gateway, rules Rules, opts ...Option) *App {
	a := &App{
		key:         key,
		store:       st,
		payments:    payments,
		rules:       rules,
		clock:       clockwork.NewRealClock(),
		picker:      NewRandomPicker(0),
		newPlayerID: NewPlayerID,
		newRoundID:  uuid.NewString,
		joining:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rules.WriteRetries <= 0 {
		a.rules.WriteRetries = 1
	}
	return a
}

// Key returns the store key of the session
func (a *App) Key() string { return a.key }

// Rules returns the rules the session runs with
func (a *App) Rules() Rules { return a.rules }

// Now returns the session clock's current time
func (a *App) Now() time.Time { return a.clock.Now() }

// State returns the current session, or the initial session if none was written yet
func (a *App) State(ctx context.Context) (*models.GameSession, error) {
	s, _, err := a.load(ctx)
	return s, err
}

// Participant returns the participant's own state. Unknown participants have the zero state.
func (a *App) Participant(ctx context.Context, participantID string) (models.ParticipantState, error) {
	var ps models.ParticipantState
	data, err := a.store.ReadParticipant(ctx, a.key, participantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ps, nil
		}
		return ps, fmt.Errorf("failed to read participant state: %w", err)
	}
	if err := json.Unmarshal(data, &ps); err != nil {
		return ps, fmt.Errorf("failed to decode participant state: %w", err)
	}
	return ps, nil
}

func (a *App) writeParticipant(ctx context.Context, participantID string, ps models.ParticipantState) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("failed to encode participant state: %w", err)
	}
	if err := a.store.WriteParticipant(ctx, a.key, participantID, data); err != nil {
		return fmt.Errorf("failed to write participant state: %w", err)
	}
	return nil
}

// Connect attaches a wallet to the participant.
func (a *App) Connect(ctx context.Context, participantID string) (payment.Wallet, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.rules.PaymentTimeout)
	defer cancel()

	wallet, err := a.payments.Connect(callCtx)
	if err != nil {
		return payment.Wallet{}, fmt.Errorf("%w: %w", ErrWalletNotConnected, err)
	}

	ps, err := a.Participant(ctx, participantID)
	if err != nil {
		return payment.Wallet{}, err
	}
	ps.Address = wallet.Address
	ps.Balance = wallet.Balance
	if err := a.writeParticipant(ctx, participantID, ps); err != nil {
		return payment.Wallet{}, err
	}

	log.Info().
		Str("session", a.key).
		Str("participant_id", participantID).
		Str("address", wallet.Address).
		Msg("wallet connected")
	return wallet, nil
}

// Join charges the entry fee and appends the participant as a player.
func (a *App) Join(ctx context.Context, participantID string) (*models.Player, error) {
	if !a.beginJoin(participantID) {
		return nil, ErrJoinInProgress
	}
	defer a.endJoin(participantID)

	ps, err := a.Participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if ps.HasJoined {
		return nil, ErrAlreadyJoined
	}
	if ps.Address == "" {
		return nil, ErrWalletNotConnected
	}

	current, err := a.State(ctx)
	if err != nil {
		return nil, err
	}
	if current.Status != models.SessionStatusWaiting {
		return nil, ErrNotWaiting
	}
	fee := decimal.NewFromFloat(a.rules.EntryFee)
	if decimal.NewFromFloat(ps.Balance).LessThan(fee) {
		return nil, ErrInsufficientBalance
	}

	chargeCtx, cancel := context.WithTimeout(ctx, a.rules.PaymentTimeout)
	receipt, err := a.payments.ChargeEntryFee(chargeCtx, ps.Address, a.rules.EntryFee)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("participant_id", participantID).Msg("entry fee charge failed")
		return nil, fmt.Errorf("%w: %w", ErrChargeFailed, err)
	}
	if !receipt.Success {
		log.Warn().Str("participant_id", participantID).Msg("entry fee charge rejected")
		return nil, ErrChargeFailed
	}

	player := models.Player{
		ID:      a.newPlayerID(),
		Name:    DisplayName(ps.Address),
		Address: ps.Address,
		TxHash:  receipt.TxHash,
	}
	next, err := a.mutate(ctx, func(s *models.GameSession) error {
		return applyJoin(s, player, a.rules.EntryFee)
	})
	if err != nil {
		// The charge went through but the session moved on while it was pending.
		log.Warn().
			Err(err).
			Str("participant_id", participantID).
			Str("tx_hash", receipt.TxHash).
			Msg("entry fee charged but player was not added")
		return nil, err
	}

	if err := a.markJoined(ctx, participantID, player, ps.Address, fee); err != nil {
		return nil, err
	}

	// A reset that landed after our session write has already listed the
	// participant slots, so undo the flag ourselves.
	current, err = a.State(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := current.FindPlayer(player.ID); !ok {
		log.Warn().
			Str("participant_id", participantID).
			Str("player_id", player.ID).
			Str("tx_hash", receipt.TxHash).
			Msg("session was reset while joining, entry fee charged but player dropped")
		if err := a.clearJoined(ctx, participantID, player.ID); err != nil {
			return nil, err
		}
		return nil, ErrNotWaiting
	}

	log.Info().
		Str("session", a.key).
		Str("participant_id", participantID).
		Str("player_id", player.ID).
		Int("players", len(next.Players)).
		Float64("pot", next.Pot).
		Msg("player joined")

	a.publish(ctx, "", events.EventTypePlayerJoined, events.PlayerJoinedPayload{
		Player:      player,
		PlayerCount: len(next.Players),
		Pot:         next.Pot,
	})
	return &player, nil
}

// markJoined sets the join fields on the latest participant slot, keeping a
// wallet connected while the charge was pending.
func (a *App) markJoined(ctx context.Context, participantID string, player models.Player, chargedAddress string, fee decimal.Decimal) error {
	ps, err := a.Participant(ctx, participantID)
	if err != nil {
		return err
	}
	ps.HasJoined = true
	ps.PlayerID = player.ID
	if ps.Address == chargedAddress {
		ps.Balance = decimal.NewFromFloat(ps.Balance).Sub(fee).InexactFloat64()
	}
	return a.writeParticipant(ctx, participantID, ps)
}

func (a *App) clearJoined(ctx context.Context, participantID, playerID string) error {
	ps, err := a.Participant(ctx, participantID)
	if err != nil {
		return err
	}
	if ps.PlayerID != playerID {
		return nil
	}
	ps.HasJoined = false
	ps.PlayerID = ""
	return a.writeParticipant(ctx, participantID, ps)
}

func (a *App) beginJoin(participantID string) bool {
	a.joiningMu.Lock()
	defer a.joiningMu.Unlock()
	if a.joining[participantID] {
		return false
	}
	a.joining[participantID] = true
	return true
}

func (a *App) endJoin(participantID string) {
	a.joiningMu.Lock()
	defer a.joiningMu.Unlock()
	delete(a.joining, participantID)
}

// Start picks a random holder and starts the round.
func (a *App) Start(ctx context.Context) (*models.GameSession, error) {
	now := a.clock.Now()
	round := a.newRoundID()

	next, err := a.mutate(ctx, func(s *models.GameSession) error {
		return applyStart(s, a.picker, a.rules.MinPlayers, now, round)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session", a.key).
		Str("round_id", round).
		Str("holder", next.PotatoHolder).
		Int("players", len(next.Players)).
		Msg("game started")

	a.publish(ctx, "", events.EventTypeGameStarted, events.GameStartedPayload{
		Round:       round,
		Holder:      next.PotatoHolder,
		PlayerCount: len(next.Players),
		Pot:         next.Pot,
		StartedAt:   now,
		DurationSec: int(a.rules.GameDuration / time.Second),
	})
	return next, nil
}

// Pass hands the potato to another player. seq is the pass count the caller
// observed; a pass for an older seq or another round is stale.
func (a *App) Pass(ctx context.Context, round string, seq int) (*models.GameSession, error) {
	var from, to string
	next, err := a.mutate(ctx, func(s *models.GameSession) error {
		var err error
		from, to, err = applyPass(s, a.picker, round, seq)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("session", a.key).
		Str("round_id", round).
		Int("seq", next.PassSeq).
		Str("from", from).
		Str("to", to).
		Msg("potato passed")

	a.publish(ctx, fmt.Sprintf("%s/%d", round, seq), events.EventTypePotatoPassed, events.PotatoPassedPayload{
		Round:    round,
		Seq:      next.PassSeq,
		From:     from,
		To:       to,
		PassedAt: a.clock.Now(),
	})
	return next, nil
}

// End finishes the round, computes the winners and pays them out asynchronously.
func (a *App) End(ctx context.Context, round string) (*models.GameSession, error) {
	next, err := a.mutate(ctx, func(s *models.GameSession) error {
		return applyEnd(s, round, a.rules.HouseFee)
	})
	if err != nil {
		return nil, err
	}
	endedAt := a.clock.Now()

	log.Info().
		Str("session", a.key).
		Str("round_id", round).
		Str("holder", next.PotatoHolder).
		Int("winners", len(next.Winners)).
		Float64("pot", next.Pot).
		Msg("game ended")

	a.publish(ctx, round+"/end", events.EventTypeGameEnded, events.GameEndedPayload{
		Round:   round,
		Holder:  next.PotatoHolder,
		Pot:     next.Pot,
		Winners: next.Winners,
		EndedAt: endedAt,
	})

	a.settle(ctx, next.Clone(), endedAt)
	return next, nil
}

// settle disburses prizes and archives the round without blocking the transition.
func (a *App) settle(ctx context.Context, s *models.GameSession, endedAt time.Time) {
	a.settling.Add(1)
	go func() {
		defer a.settling.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.rules.PaymentTimeout)
		defer cancel()

		record := models.RoundRecord{
			Round:      s.Round,
			SessionKey: a.key,
			EndedAt:    endedAt,
			Pot:        s.Pot,
			HouseFee:   houseCut(s.Pot, a.rules.HouseFee),
			Winners:    s.Winners,
		}
		if s.StartTime != nil {
			record.StartedAt = *s.StartTime
		}
		if holder, ok := s.FindPlayer(s.PotatoHolder); ok {
			record.Holder = &holder
		}

		if len(s.Winners) == 0 {
			log.Info().Str("round_id", s.Round).Msg("no winners, skipping disbursement")
		} else {
			addresses := make([]string, len(s.Winners))
			amounts := make([]float64, len(s.Winners))
			for i, w := range s.Winners {
				addresses[i] = w.Address
				amounts[i] = w.WinAmount
			}

			payload := events.PrizesDisbursedPayload{Round: s.Round}
			receipt, err := a.payments.Disburse(ctx, addresses, amounts)
			switch {
			case err != nil:
				log.Error().Err(err).Str("round_id", s.Round).Msg("prize disbursement failed")
				payload.Error = err.Error()
			case !receipt.Success:
				log.Error().Str("round_id", s.Round).Msg("prize disbursement rejected")
				payload.Error = "disbursement rejected"
			default:
				log.Info().
					Str("round_id", s.Round).
					Str("tx_hash", receipt.TxHash).
					Int("recipients", len(addresses)).
					Msg("prizes disbursed")
				payload.Success = true
				payload.TxHash = receipt.TxHash
			}
			record.DisbursementOK = payload.Success
			record.DisbursementTx = payload.TxHash

			a.publish(ctx, s.Round+"/payout", events.EventTypePrizesDisbursed, payload)
		}

		if a.recorder != nil {
			if err := a.recorder.RecordRound(ctx, record); err != nil {
				log.Error().Err(err).Str("round_id", s.Round).Msg("failed to archive round")
			}
		}
	}()
}

// Wait blocks until every pending disbursement has finished.
func (a *App) Wait() {
	a.settling.Wait()
}

// Reset returns the session to its initial state and clears every participant's join flag.
func (a *App) Reset(ctx context.Context) (*models.GameSession, error) {
	next, err := a.mutate(ctx, func(s *models.GameSession) error {
		*s = *models.NewGameSession()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slots, err := a.store.Participants(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	var errs []error
	for id, data := range slots {
		var ps models.ParticipantState
		if err := json.Unmarshal(data, &ps); err != nil {
			log.Warn().Err(err).Str("participant_id", id).Msg("discarding unreadable participant state")
			ps = models.ParticipantState{}
		} else if !ps.HasJoined && ps.PlayerID == "" {
			continue
		}
		ps.HasJoined = false
		ps.PlayerID = ""
		if err := a.writeParticipant(ctx, id, ps); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().Str("session", a.key).Int("participants", len(slots)).Msg("session reset")
	a.publish(ctx, "", events.EventTypeSessionReset, events.SessionResetPayload{ResetAt: a.clock.Now()})
	return next, errors.Join(errs...)
}

// Subscribe delivers the session every time it changes until ctx is cancelled.
func (a *App) Subscribe(ctx context.Context) (<-chan *models.GameSession, error) {
	entries, err := a.store.Watch(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch session: %w", err)
	}

	out := make(chan *models.GameSession, 1)
	go func() {
		defer close(out)
		for e := range entries {
			s, err := decodeSession(e.Value)
			if err != nil {
				log.Error().Err(err).Uint64("revision", e.Revision).Msg("skipping undecodable session")
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *App) load(ctx context.Context) (*models.GameSession, uint64, error) {
	e, err := a.store.Read(ctx, a.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.NewGameSession(), 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read session: %w", err)
	}
	s, err := decodeSession(e.Value)
	if err != nil {
		return nil, 0, err
	}
	return s, e.Revision, nil
}

// mutate applies fn to the latest session and writes it back with a revision check.
// On a conflict fn is re-applied to the newer value.
func (a *App) mutate(ctx context.Context, fn func(s *models.GameSession) error) (*models.GameSession, error) {
	for attempt := 1; attempt <= a.rules.WriteRetries; attempt++ {
		current, rev, err := a.load(ctx)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session: %w", err)
		}
		if _, err := a.store.CompareAndWrite(ctx, a.key, data, rev); err != nil {
			if errors.Is(err, store.ErrRevisionMismatch) {
				log.Debug().
					Str("session", a.key).
					Uint64("revision", rev).
					Int("attempt", attempt).
					Msg("session changed concurrently, rebasing")
				continue
			}
			return nil, fmt.Errorf("failed to write session: %w", err)
		}
		return next, nil
	}
	return nil, ErrWriteConflict
}

// publish sends a lifecycle event once the transition is stored. The write
// already happened, so the caller's cancellation does not apply.
func (a *App) publish(ctx context.Context, id string, eventType events.EventType, payload any) {
	if a.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	var (
		ev  events.Event
		err error
	)
	if id == "" {
		ev, err = events.New(a.key, eventType, a.clock.Now(), payload)
	} else {
		ev, err = events.NewWithID(id, a.key, eventType, a.clock.Now(), payload)
	}
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	if err := a.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event")
	}
}

func decodeSession(data []byte) (*models.GameSession, error) {
	s := models.NewGameSession()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.Players == nil {
		s.Players = []models.Player{}
	}
	if s.Winners == nil {
		s.Winners = []models.WinnerResult{}
	}
	return s, nil
}
