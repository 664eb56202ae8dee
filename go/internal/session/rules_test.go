package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/hotpotato/go/internal/models"
)

func playingSession(ids ...string) *models.GameSession {
	s := models.NewGameSession()
	for _, id := range ids {
		s.Players = append(s.Players, models.Player{ID: id, Address: "0x" + id})
	}
	now := time.Unix(0, 0)
	s.Status = models.SessionStatusPlaying
	s.StartTime = &now
	s.Round = "r1"
	s.PotatoHolder = ids[0]
	s.Pot = 0.1 * float64(len(ids))
	return s
}

func TestWinnerShare(t *testing.T) {
	tests := []struct {
		name    string
		pot     float64
		fee     float64
		winners int
		want    float64
	}{
		{"three players", 0.3, 0.05, 2, 0.1425},
		{"no winners", 0.3, 0.05, 0, 0},
		{"no house fee", 1, 0, 4, 0.25},
		{"ten players", 1, 0.05, 9, 0.95 / 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := winnerShare(tt.pot, tt.fee, tt.winners); !almostEqual(got, tt.want) {
				t.Fatalf("winnerShare = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyEndPaysEveryoneButHolder(t *testing.T) {
	s := playingSession("a", "b", "c", "d")
	s.PotatoHolder = "c"

	if err := applyEnd(s, "r1", 0.05); err != nil {
		t.Fatalf("applyEnd: %v", err)
	}
	if s.Status != models.SessionStatusFinished {
		t.Fatalf("status = %s", s.Status)
	}
	var ids []string
	for _, w := range s.Winners {
		ids = append(ids, w.ID)
	}
	if got := strings.Join(ids, ","); got != "a,b,d" {
		t.Fatalf("winners = %s, want a,b,d in join order", got)
	}
}

func TestApplyStartPreconditions(t *testing.T) {
	picker := &scriptedPicker{}
	now := time.Unix(100, 0)

	s := models.NewGameSession()
	if err := applyStart(s, picker, 3, now, "r1"); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("empty session: got %v", err)
	}

	s = playingSession("a", "b", "c")
	if err := applyStart(s, picker, 3, now, "r2"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("playing session: got %v", err)
	}
	if s.Round != "r1" {
		t.Fatalf("round changed on rejected start: %s", s.Round)
	}
}

func TestApplyJoinRejectsDuplicateID(t *testing.T) {
	s := models.NewGameSession()
	p := models.Player{ID: "player_abc"}
	if err := applyJoin(s, p, 0.1); err != nil {
		t.Fatalf("applyJoin: %v", err)
	}
	if err := applyJoin(s, p, 0.1); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("duplicate applyJoin: got %v", err)
	}
	if len(s.Players) != 1 || !almostEqual(s.Pot, 0.1) {
		t.Fatalf("session = %+v", s)
	}
}

func TestDrawInterval(t *testing.T) {
	lo, hi := 3*time.Second, 6*time.Second
	picker := &scriptedPicker{floats: []float64{0, 0.5, 0.999}}

	want := []time.Duration{3 * time.Second, 4500 * time.Millisecond}
	for _, w := range want {
		if got := drawInterval(picker, lo, hi); got != w {
			t.Fatalf("drawInterval = %v, want %v", got, w)
		}
	}
	if got := drawInterval(picker, lo, hi); got < lo || got >= hi {
		t.Fatalf("drawInterval = %v, want within [%v, %v)", got, lo, hi)
	}
	if got := drawInterval(picker, hi, lo); got != hi {
		t.Fatalf("inverted bounds: got %v, want %v", got, hi)
	}
}

func TestNewPlayerID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewPlayerID()
		suffix, ok := strings.CutPrefix(id, "player_")
		if !ok || len(suffix) != 9 {
			t.Fatalf("id %q does not match player_XXXXXXXXX", id)
		}
		if strings.Trim(suffix, "0123456789abcdefghijklmnopqrstuvwxyz") != "" {
			t.Fatalf("id %q is not base36", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"0x1234567890abcdef1234567890abcdef12345678": "0x1234...5678",
		"0xabc": "0xabc",
	}
	for in, want := range tests {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReason(t *testing.T) {
	if got := Reason(ErrNotEnoughPlayers); got != "not_enough_players" {
		t.Fatalf("Reason = %s", got)
	}
	if got := Reason(errors.New("boom")); got != "internal" {
		t.Fatalf("Reason = %s", got)
	}
}
