package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/hotpotato/go/internal/events"
	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/payment/paymenttest"
	"github.com/mcdev12/hotpotato/go/internal/session"
	"github.com/mcdev12/hotpotato/go/internal/store"
)

const testPassword = "potato123"

type stubHistory struct {
	rounds []models.RoundRecord
	err    error
}

func (h *stubHistory) ListRounds(_ context.Context, _ string, limit int) ([]models.RoundRecord, error) {
	if h.err != nil {
		return nil, h.err
	}
	if limit < len(h.rounds) {
		return h.rounds[:limit], nil
	}
	return h.rounds, nil
}

type testGateway struct {
	app     *session.App
	service *Service
	server  *httptest.Server
}

func newTestGateway(t *testing.T, history HistoryReader) *testGateway {
	t.Helper()

	cm := NewConnectionManager(DefaultConnectionConfig())
	app := session.NewApp("session.test", store.NewMemoryStore(), paymenttest.NewFakeGateway(10), session.DefaultRules(),
		session.WithPublisher(cm),
		session.WithPicker(session.NewRandomPicker(7)),
	)

	cfg := DefaultConfig()
	cfg.Password = testPassword
	svc := NewService(cfg, app, cm, nil, history)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
		app.Wait()
	})

	return &testGateway{app: app, service: svc, server: server}
}

func (g *testGateway) dial(t *testing.T, participantID, password string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/session?password=" + password
	if participantID != "" {
		url += "&participant_id=" + participantID
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readUntil reads messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, action, requestID string) {
	t.Helper()
	if err := conn.WriteJSON(Command{Action: action, RequestID: requestID}); err != nil {
		t.Fatalf("write %s: %v", action, err)
	}
}

func expectAck(t *testing.T, conn *websocket.Conn, requestID string) AckData {
	t.Helper()
	for {
		msg := readUntil(t, conn, MessageTypeAck)
		var ack AckData
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.RequestID == requestID {
			return ack
		}
	}
}

func expectError(t *testing.T, conn *websocket.Conn, requestID string) ErrorData {
	t.Helper()
	for {
		msg := readUntil(t, conn, MessageTypeError)
		var data ErrorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if data.RequestID == requestID {
			return data
		}
	}
}

func TestRejectsWrongPassword(t *testing.T) {
	g := newTestGateway(t, nil)

	_, resp, err := g.dial(t, "alice", "wrong")
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial: got %v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
}

func TestWelcomeAssignsParticipant(t *testing.T) {
	g := newTestGateway(t, nil)

	conn, _, err := g.dial(t, "", testPassword)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	msg := readUntil(t, conn, MessageTypeWelcome)
	var welcome WelcomeData
	if err := json.Unmarshal(msg.Data, &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if welcome.ParticipantID == "" || welcome.ConnectionID == "" {
		t.Fatalf("welcome = %+v", welcome)
	}

	state := readUntil(t, conn, MessageTypeState)
	var data StateData
	if err := json.Unmarshal(state.Data, &data); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if data.Session == nil || data.Session.Status != models.SessionStatusWaiting {
		t.Fatalf("state = %+v", data)
	}
	readUntil(t, conn, MessageTypeParticipant)
}

func TestCommandsDriveTheSession(t *testing.T) {
	g := newTestGateway(t, nil)

	var conns []*websocket.Conn
	for _, id := range []string{"alice", "bob", "carol"} {
		conn, _, err := g.dial(t, id, testPassword)
		if err != nil {
			t.Fatalf("dial %s: %v", id, err)
		}
		readUntil(t, conn, MessageTypeWelcome)
		conns = append(conns, conn)
	}

	// Start is rejected with two players.
	for i, conn := range conns[:2] {
		send(t, conn, ActionConnect, "c")
		ack := expectAck(t, conn, "c")
		if ack.Wallet == nil || ack.Wallet.Address == "" {
			t.Fatalf("connect ack %d = %+v", i, ack)
		}
		send(t, conn, ActionJoin, "j")
		if ack := expectAck(t, conn, "j"); ack.Player == nil {
			t.Fatalf("join ack %d has no player", i)
		}
	}
	send(t, conns[0], ActionStart, "s1")
	if e := expectError(t, conns[0], "s1"); e.Reason != "not_enough_players" {
		t.Fatalf("start error = %+v", e)
	}

	// Joining twice is rejected.
	send(t, conns[0], ActionJoin, "j2")
	if e := expectError(t, conns[0], "j2"); e.Reason != "already_joined" {
		t.Fatalf("second join error = %+v", e)
	}

	send(t, conns[2], ActionConnect, "c")
	expectAck(t, conns[2], "c")
	send(t, conns[2], ActionJoin, "j")
	expectAck(t, conns[2], "j")

	send(t, conns[1], ActionStart, "s2")
	expectAck(t, conns[1], "s2")

	// Everybody sees the round start.
	for _, conn := range conns {
		msg := readUntil(t, conn, MessageType(events.EventTypeGameStarted))
		var payload events.GameStartedPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("decode GameStarted: %v", err)
		}
		if payload.PlayerCount != 3 || payload.Holder == "" {
			t.Fatalf("GameStarted = %+v", payload)
		}
	}

	s, err := g.app.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if s.Status != models.SessionStatusPlaying || len(s.Players) != 3 {
		t.Fatalf("session = %+v", s)
	}

	send(t, conns[0], "dance", "x")
	if e := expectError(t, conns[0], "x"); e.Reason != "unknown_action" {
		t.Fatalf("unknown action error = %+v", e)
	}

	send(t, conns[2], ActionReset, "r")
	expectAck(t, conns[2], "r")
	readUntil(t, conns[0], MessageType(events.EventTypeSessionReset))

	ps, err := g.app.Participant(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Participant: %v", err)
	}
	if ps.HasJoined || ps.PlayerID != "" || ps.Address == "" {
		t.Fatalf("participant after reset = %+v", ps)
	}
}

func TestMalformedCommand(t *testing.T) {
	g := newTestGateway(t, nil)
	conn, _, err := g.dial(t, "alice", testPassword)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, MessageTypeError)
	var data ErrorData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if data.Reason != "bad_request" {
		t.Fatalf("error = %+v", data)
	}
}

func TestTickBroadcast(t *testing.T) {
	g := newTestGateway(t, nil)
	conn, _, err := g.dial(t, "alice", testPassword)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readUntil(t, conn, MessageTypeParticipant)

	g.service.OnTick(session.Tick{Round: "r1", RemainingSec: 42, UntilNextPassSec: 2.5})
	msg := readUntil(t, conn, MessageTypeTick)
	var tick TickData
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	if tick.RemainingSec != 42 || tick.UntilNextPassSec != 2.5 {
		t.Fatalf("tick = %+v", tick)
	}
}

func TestStateHandlers(t *testing.T) {
	history := &stubHistory{rounds: []models.RoundRecord{{Round: "r2"}, {Round: "r1"}}}
	g := newTestGateway(t, history)

	resp, err := http.Get(g.server.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer resp.Body.Close()
	var state StateData
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Session == nil || state.Session.Status != models.SessionStatusWaiting {
		t.Fatalf("state = %+v", state)
	}

	if _, err := g.app.Connect(context.Background(), "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	resp2, err := http.Get(g.server.URL + "/api/session/participants/alice")
	if err != nil {
		t.Fatalf("GET participant: %v", err)
	}
	defer resp2.Body.Close()
	var ps models.ParticipantState
	if err := json.NewDecoder(resp2.Body).Decode(&ps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ps.Address == "" || ps.HasJoined {
		t.Fatalf("participant = %+v", ps)
	}

	resp3, err := http.Get(g.server.URL + "/api/rounds?limit=1")
	if err != nil {
		t.Fatalf("GET rounds: %v", err)
	}
	defer resp3.Body.Close()
	var rounds []models.RoundRecord
	if err := json.NewDecoder(resp3.Body).Decode(&rounds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rounds) != 1 || rounds[0].Round != "r2" {
		t.Fatalf("rounds = %+v", rounds)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rounds?limit=abc", nil)
	g.service.stateHandler.HandleListRounds(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestRoundsDisabledWithoutHistory(t *testing.T) {
	g := newTestGateway(t, nil)
	resp, err := http.Get(g.server.URL + "/api/rounds")
	if err != nil {
		t.Fatalf("GET rounds: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
