package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/payment"
	"github.com/mcdev12/hotpotato/go/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionApp is what the gateway needs from the session state machine
type SessionApp interface {
	Key() string
	Rules() session.Rules
	Now() time.Time
	State(ctx context.Context) (*models.GameSession, error)
	Participant(ctx context.Context, participantID string) (models.ParticipantState, error)
	Connect(ctx context.Context, participantID string) (payment.Wallet, error)
	Join(ctx context.Context, participantID string) (*models.Player, error)
	Start(ctx context.Context) (*models.GameSession, error)
	Reset(ctx context.Context) (*models.GameSession, error)
	Subscribe(ctx context.Context) (<-chan *models.GameSession, error)
}

// HistoryReader lists archived rounds
type HistoryReader interface {
	ListRounds(ctx context.Context, sessionKey string, limit int) ([]models.RoundRecord, error)
}

type Config struct {
	ConnectionConfig ConnectionConfig
	// Password gates participant connections when set
	Password       string
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CommandTimeout:   45 * time.Second,
	}
}

// Service is the participant facing gateway: WebSocket commands in, session
// state, ticks and events out.
type Service struct {
	app               SessionApp
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
	config            Config

	ctxMu   sync.RWMutex
	baseCtx context.Context
}

// NewService creates the gateway. consumer and history may be nil.
func NewService(config Config, app SessionApp, cm *ConnectionManager, consumer *EventConsumer, history HistoryReader) *Service {
	s := &Service{
		app:               app,
		connectionManager: cm,
		eventConsumer:     consumer,
		config:            config,
		baseCtx:           context.Background(),
	}
	s.wsHandler = NewWebSocketHandler(s, config.Password)
	s.stateHandler = NewStateHandler(app, history)
	cm.SetCommandHandler(s)
	return s
}

// Start runs the broadcast loop, the state watcher and the event consumer until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Str("session", s.app.Key()).Msg("starting session gateway")

	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	updates, err := s.app.Subscribe(ctx)
	if err != nil {
		return err
	}

	var last *models.GameSession
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session gateway stopped")
			return nil
		case snapshot, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			s.broadcastState(snapshot)
			if last == nil || last.Status != snapshot.Status || len(last.Players) != len(snapshot.Players) {
				s.refreshParticipants(ctx)
			}
			last = snapshot
		}
	}
}

func (s *Service) context() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}

// RegisterRoutes registers the WebSocket and state routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// OnTick broadcasts the round countdown
func (s *Service) OnTick(tick session.Tick) {
	msg, err := newMessage(s.app.Key(), MessageTypeTick, TickData{
		Round:            tick.Round,
		RemainingSec:     tick.RemainingSec,
		UntilNextPassSec: tick.UntilNextPassSec,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build tick message")
		return
	}
	s.connectionManager.BroadcastToSession(s.app.Key(), msg)
}

// Stats returns connection statistics
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// HandleCommand runs a client command and answers with an ack or an error
func (s *Service) HandleCommand(c *Connection, cmd Command) {
	ctx, cancel := context.WithTimeout(s.context(), s.config.CommandTimeout)
	defer cancel()

	ack := AckData{RequestID: cmd.RequestID, Action: cmd.Action}
	var err error

	switch cmd.Action {
	case ActionConnect:
		var wallet payment.Wallet
		wallet, err = s.app.Connect(ctx, c.ParticipantID)
		ack.Wallet = &wallet
	case ActionJoin:
		ack.Player, err = s.app.Join(ctx, c.ParticipantID)
	case ActionStart:
		_, err = s.app.Start(ctx)
	case ActionReset:
		_, err = s.app.Reset(ctx)
	default:
		s.sendError(c, ErrorData{
			RequestID: cmd.RequestID,
			Action:    cmd.Action,
			Reason:    "unknown_action",
			Message:   "unknown action " + cmd.Action,
		})
		return
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("participant_id", c.ParticipantID).
			Str("action", cmd.Action).
			Msg("command rejected")
		s.sendError(c, ErrorData{
			RequestID: cmd.RequestID,
			Action:    cmd.Action,
			Reason:    session.Reason(err),
			Message:   err.Error(),
		})
		return
	}

	if msg, err := newMessage(s.app.Key(), MessageTypeAck, ack); err == nil {
		s.connectionManager.SendTo(c, msg)
	}
	if cmd.Action == ActionConnect || cmd.Action == ActionJoin {
		// Other tabs of the same participant see the new wallet and join flag too.
		s.broadcastParticipant(ctx, c.ParticipantID)
	}
}

func (s *Service) sendError(c *Connection, data ErrorData) {
	msg, err := newMessage(s.app.Key(), MessageTypeError, data)
	if err != nil {
		log.Error().Err(err).Msg("failed to build error message")
		return
	}
	s.connectionManager.SendTo(c, msg)
}

// sendWelcome sends the greeting, the current state and the participant's own state
func (s *Service) sendWelcome(ctx context.Context, c *Connection) {
	if msg, err := newMessage(s.app.Key(), MessageTypeWelcome, WelcomeData{
		ConnectionID:  c.ID,
		ParticipantID: c.ParticipantID,
	}); err == nil {
		s.connectionManager.SendTo(c, msg)
	}

	snapshot, err := s.app.State(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read session for new connection")
	} else if msg, err := s.stateMessage(snapshot); err == nil {
		s.connectionManager.SendTo(c, msg)
	}

	s.sendParticipant(ctx, c)
}

func (s *Service) sendParticipant(ctx context.Context, c *Connection) {
	ps, err := s.app.Participant(ctx, c.ParticipantID)
	if err != nil {
		log.Error().Err(err).Str("participant_id", c.ParticipantID).Msg("failed to read participant state")
		return
	}
	if msg, err := newMessage(s.app.Key(), MessageTypeParticipant, ps); err == nil {
		s.connectionManager.SendTo(c, msg)
	}
}

func (s *Service) broadcastParticipant(ctx context.Context, participantID string) {
	ps, err := s.app.Participant(ctx, participantID)
	if err != nil {
		log.Error().Err(err).Str("participant_id", participantID).Msg("failed to read participant state")
		return
	}
	if msg, err := newMessage(s.app.Key(), MessageTypeParticipant, ps); err == nil {
		s.connectionManager.BroadcastToParticipant(s.app.Key(), participantID, msg)
	}
}

func (s *Service) refreshParticipants(ctx context.Context) {
	for _, c := range s.connectionManager.Connections(s.app.Key()) {
		s.sendParticipant(ctx, c)
	}
}

func (s *Service) stateMessage(snapshot *models.GameSession) (*Message, error) {
	return newMessage(s.app.Key(), MessageTypeState, StateData{
		Session:      snapshot,
		RemainingSec: remainingSeconds(snapshot, s.app.Now(), s.app.Rules()),
	})
}

func (s *Service) broadcastState(snapshot *models.GameSession) {
	msg, err := s.stateMessage(snapshot)
	if err != nil {
		log.Error().Err(err).Msg("failed to build state message")
		return
	}
	s.connectionManager.BroadcastToSession(s.app.Key(), msg)
}

func remainingSeconds(snapshot *models.GameSession, now time.Time, rules session.Rules) int {
	if snapshot.Status != models.SessionStatusPlaying {
		return 0
	}
	return snapshot.RemainingSeconds(now, rules.GameDuration)
}
