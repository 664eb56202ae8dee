package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/hotpotato/go/internal/events"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/payment"
)

// MessageType is the type of a server to client message. Domain events keep
// their event type name.
type MessageType string

const (
	MessageTypeWelcome     MessageType = "welcome"
	MessageTypeState       MessageType = "state"
	MessageTypeParticipant MessageType = "participant"
	MessageTypeTick        MessageType = "tick"
	MessageTypeAck         MessageType = "ack"
	MessageTypeError       MessageType = "error"
)

// Message is the envelope of everything sent to clients
type Message struct {
	ID        string          `json:"id"`
	Session   string          `json:"session"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Command is sent by clients
type Command struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

const (
	ActionConnect = "connect"
	ActionJoin    = "join"
	ActionStart   = "start"
	ActionReset   = "reset"
)

type WelcomeData struct {
	ConnectionID  string `json:"connection_id"`
	ParticipantID string `json:"participant_id"`
}

type StateData struct {
	Session      *models.GameSession `json:"session"`
	RemainingSec int                 `json:"remaining_sec"`
}

type AckData struct {
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Wallet    *payment.Wallet `json:"wallet,omitempty"`
	Player    *models.Player  `json:"player,omitempty"`
}

type ErrorData struct {
	RequestID string `json:"request_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

type TickData struct {
	Round            string  `json:"round"`
	RemainingSec     int     `json:"remaining_sec"`
	UntilNextPassSec float64 `json:"until_next_pass_sec"`
}

func newMessage(sessionKey string, msgType MessageType, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Session:   sessionKey,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// eventMessage forwards a domain event unchanged.
func eventMessage(ev events.Event) *Message {
	return &Message{
		ID:        ev.ID,
		Session:   ev.SessionKey,
		Type:      MessageType(ev.Type),
		Timestamp: ev.Timestamp,
		Data:      ev.Payload,
	}
}
