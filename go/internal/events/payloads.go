package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/hotpotato/go/internal/models"
)

// EventType represents the type of session event
type EventType string

const (
	EventTypeSessionReset    EventType = "SessionReset"
	EventTypePlayerJoined    EventType = "PlayerJoined"
	EventTypeGameStarted     EventType = "GameStarted"
	EventTypePotatoPassed    EventType = "PotatoPassed"
	EventTypeGameEnded       EventType = "GameEnded"
	EventTypePrizesDisbursed EventType = "PrizesDisbursed"
)

// Event is the envelope published on the event bus.
type Event struct {
	ID         string          `json:"eventId"`
	Type       EventType       `json:"eventType"`
	SessionKey string          `json:"sessionKey"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a random id. Use NewWithID when duplicate
// publications of the same transition must be recognisable.
func New(sessionKey string, eventType EventType, now time.Time, payload any) (Event, error) {
	return NewWithID(uuid.NewString(), sessionKey, eventType, now, payload)
}

// NewWithID builds an event with a caller supplied id.
func NewWithID(id, sessionKey string, eventType EventType, now time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         id,
		Type:       eventType,
		SessionKey: sessionKey,
		Timestamp:  now.UTC(),
		Payload:    data,
	}, nil
}

// SessionResetPayload is emitted when the session returns to waiting
type SessionResetPayload struct {
	ResetAt time.Time `json:"reset_at"`
}

// PlayerJoinedPayload is emitted when an entry fee was charged and the player appended
type PlayerJoinedPayload struct {
	Player      models.Player `json:"player"`
	PlayerCount int           `json:"player_count"`
	Pot         float64       `json:"pot"`
}

// GameStartedPayload is emitted when the session enters playing
type GameStartedPayload struct {
	Round       string    `json:"round"`
	Holder      string    `json:"holder"`
	PlayerCount int       `json:"player_count"`
	Pot         float64   `json:"pot"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec int       `json:"duration_sec"`
}

// PotatoPassedPayload is emitted for each pass
type PotatoPassedPayload struct {
	Round    string    `json:"round"`
	Seq      int       `json:"seq"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	PassedAt time.Time `json:"passed_at"`
}

// GameEndedPayload is emitted when the game clock runs out
type GameEndedPayload struct {
	Round   string                `json:"round"`
	Holder  string                `json:"holder"`
	Pot     float64               `json:"pot"`
	Winners []models.WinnerResult `json:"winners"`
	EndedAt time.Time             `json:"ended_at"`
}

// PrizesDisbursedPayload reports the outcome of the payout
type PrizesDisbursedPayload struct {
	Round   string `json:"round"`
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}
