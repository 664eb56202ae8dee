package models

import (
	"testing"
	"time"
)

func TestNewGameSessionIsCanonical(t *testing.T) {
	s := NewGameSession()
	if s.Status != SessionStatusWaiting {
		t.Fatalf("status = %s, want waiting", s.Status)
	}
	if len(s.Players) != 0 || len(s.Winners) != 0 {
		t.Fatalf("expected empty players and winners, got %d/%d", len(s.Players), len(s.Winners))
	}
	if s.PotatoHolder != "" || s.Pot != 0 || s.StartTime != nil || s.Round != "" || s.PassSeq != 0 {
		t.Fatalf("unexpected non-zero fields: %+v", s)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewGameSession()
	s.Players = append(s.Players, Player{ID: "a"}, Player{ID: "b"})
	s.StartTime = &start

	c := s.Clone()
	c.Players[0].ID = "changed"
	c.Players = append(c.Players, Player{ID: "c"})
	*c.StartTime = start.Add(time.Hour)

	if s.Players[0].ID != "a" || len(s.Players) != 2 {
		t.Fatalf("clone mutated original players: %+v", s.Players)
	}
	if !s.StartTime.Equal(start) {
		t.Fatalf("clone mutated original start time")
	}
}

func TestPlayersExcept(t *testing.T) {
	s := NewGameSession()
	s.Players = []Player{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	got := s.PlayersExcept("b")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("PlayersExcept = %+v", got)
	}
	if len(s.PlayersExcept("zzz")) != 3 {
		t.Fatalf("unknown id should keep every player")
	}
}

func TestRemainingSeconds(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewGameSession()

	if got := s.RemainingSeconds(start, time.Minute); got != 60 {
		t.Fatalf("not started: got %d, want 60", got)
	}

	s.StartTime = &start
	cases := []struct {
		after time.Duration
		want  int
	}{
		{0, 60},
		{900 * time.Millisecond, 60},
		{time.Second, 59},
		{59*time.Second + 999*time.Millisecond, 1},
		{time.Minute, 0},
		{2 * time.Minute, 0},
	}
	for _, tc := range cases {
		if got := s.RemainingSeconds(start.Add(tc.after), time.Minute); got != tc.want {
			t.Errorf("after %s: got %d, want %d", tc.after, got, tc.want)
		}
	}
}
