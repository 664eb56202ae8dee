package session

import (
	"time"

	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/shopspring/decimal"
)

// Rules are the tunable constants of a game.
type Rules struct {
	EntryFee        float64
	HouseFee        float64 // fraction of the pot retained
	GameDuration    time.Duration
	MinPlayers      int
	PassIntervalMin time.Duration
	PassIntervalMax time.Duration
	GameTick        time.Duration
	PassTick        time.Duration
	PaymentTimeout  time.Duration
	WriteRetries    int
}

// DefaultRules returns the reference game: 0.1 entry, 5% house fee, 60s rounds.
func DefaultRules() Rules {
	return Rules{
		EntryFee:        0.1,
		HouseFee:        0.05,
		GameDuration:    60 * time.Second,
		MinPlayers:      3,
		PassIntervalMin: 3 * time.Second,
		PassIntervalMax: 6 * time.Second,
		GameTick:        100 * time.Millisecond,
		PassTick:        time.Second,
		PaymentTimeout:  30 * time.Second,
		WriteRetries:    8,
	}
}

func applyJoin(s *models.GameSession, p models.Player, fee float64) error {
	if s.Status != models.SessionStatusWaiting {
		return ErrNotWaiting
	}
	if _, exists := s.FindPlayer(p.ID); exists {
		return ErrAlreadyJoined
	}
	s.Players = append(s.Players, p)
	s.Pot = decimal.NewFromFloat(s.Pot).Add(decimal.NewFromFloat(fee)).InexactFloat64()
	return nil
}

func applyStart(s *models.GameSession, picker Picker, minPlayers int, now time.Time, round string) error {
	if s.Status != models.SessionStatusWaiting {
		return ErrNotWaiting
	}
	if len(s.Players) < minPlayers {
		return ErrNotEnoughPlayers
	}
	s.PotatoHolder = s.Players[picker.Intn(len(s.Players))].ID
	s.Status = models.SessionStatusPlaying
	s.StartTime = &now
	s.Round = round
	s.PassSeq = 0
	s.Winners = []models.WinnerResult{}
	return nil
}

// applyPass moves the potato to a uniformly chosen other player. The (round, seq)
// pair must match the session, otherwise the pass was already applied.
func applyPass(s *models.GameSession, picker Picker, round string, seq int) (from, to string, err error) {
	if s.Status != models.SessionStatusPlaying {
		return "", "", ErrNotPlaying
	}
	if s.Round != round || s.PassSeq != seq {
		return "", "", ErrStaleTransition
	}
	candidates := s.PlayersExcept(s.PotatoHolder)
	if len(candidates) == 0 {
		return "", "", ErrNoCandidates
	}
	from = s.PotatoHolder
	to = candidates[picker.Intn(len(candidates))].ID
	s.PotatoHolder = to
	s.PassSeq++
	return from, to, nil
}

func applyEnd(s *models.GameSession, round string, houseFee float64) error {
	if s.Status != models.SessionStatusPlaying {
		return ErrNotPlaying
	}
	if s.Round != round {
		return ErrStaleTransition
	}
	survivors := s.PlayersExcept(s.PotatoHolder)
	share := winnerShare(s.Pot, houseFee, len(survivors))

	s.Winners = make([]models.WinnerResult, 0, len(survivors))
	for _, p := range survivors {
		s.Winners = append(s.Winners, models.WinnerResult{Player: p, WinAmount: share})
	}
	s.Status = models.SessionStatusFinished
	return nil
}

// winnerShare returns pot * (1 - houseFee) / winners, or 0 without winners.
func winnerShare(pot, houseFee float64, winners int) float64 {
	if winners == 0 {
		return 0
	}
	distributable := decimal.NewFromFloat(pot).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(houseFee)))
	return distributable.Div(decimal.NewFromInt(int64(winners))).InexactFloat64()
}

// houseCut returns the retained part of the pot.
func houseCut(pot, houseFee float64) float64 {
	return decimal.NewFromFloat(pot).Mul(decimal.NewFromFloat(houseFee)).InexactFloat64()
}
