package models

import (
	"time"
)

// SessionStatus defines the lifecycle status of a game session.
type SessionStatus string

const (
	SessionStatusWaiting  SessionStatus = "waiting"
	SessionStatusPlaying  SessionStatus = "playing"
	SessionStatusFinished SessionStatus = "finished"
)

// Player is a participant that paid the entry fee for the current session.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
}

// WinnerResult is a player together with its share of the distributable pot.
type WinnerResult struct {
	Player
	WinAmount float64 `json:"win_amount"`
}

// GameSession is the single shared aggregate replicated through the store.
type GameSession struct {
	Status       SessionStatus  `json:"status"`
	Players      []Player       `json:"players"`
	PotatoHolder string         `json:"potato_holder,omitempty"`
	Pot          float64        `json:"pot"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	Winners      []WinnerResult `json:"winners"`

	// Round and PassSeq key the Pass and End transitions so duplicate
	// firings of the same transition collapse into one.
	Round   string `json:"round,omitempty"`
	PassSeq int    `json:"pass_seq"`
}

// NewGameSession returns the canonical initial session.
func NewGameSession() *GameSession {
	return &GameSession{
		Status:  SessionStatusWaiting,
		Players: []Player{},
		Winners: []WinnerResult{},
	}
}

// Clone returns a deep copy of the session.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.Players = append([]Player{}, s.Players...)
	c.Winners = append([]WinnerResult{}, s.Winners...)
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	return &c
}

// FindPlayer returns the player with the given id.
func (s *GameSession) FindPlayer(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// PlayersExcept returns players in join order without the one with the given id.
func (s *GameSession) PlayersExcept(id string) []Player {
	out := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// RemainingSeconds returns max(0, duration - elapsed whole seconds) for a
// playing session, or the full duration when the game has not started.
func (s *GameSession) RemainingSeconds(now time.Time, duration time.Duration) int {
	total := int(duration / time.Second)
	if s.StartTime == nil {
		return total
	}
	elapsed := int(now.Sub(*s.StartTime) / time.Second)
	if remaining := total - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// ParticipantState is owned by one connected participant and never written by others,
// except for the session-wide reset.
type ParticipantState struct {
	HasJoined bool   `json:"has_joined"`
	PlayerID  string `json:"player_id,omitempty"`

	// Wallet bookkeeping from the last connect/charge.
	Address string  `json:"address,omitempty"`
	Balance float64 `json:"balance"`
}

// RoundRecord is the archived outcome of a finished round.
type RoundRecord struct {
	Round          string         `json:"round"`
	SessionKey     string         `json:"session_key"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	Pot            float64        `json:"pot"`
	HouseFee       float64        `json:"house_fee"`
	Holder         *Player        `json:"holder,omitempty"`
	Winners        []WinnerResult `json:"winners"`
	DisbursementTx string         `json:"disbursement_tx,omitempty"`
	DisbursementOK bool           `json:"disbursement_ok"`
}
