package history

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mcdev12/hotpotato/go/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("HOTPOTATO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HOTPOTATO_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestRepositoryRecordAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	session := "session.test_" + uuid.New().String()[:8]
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM rounds WHERE session_key = $1`, session)
	})

	holder := models.Player{ID: "player_holder000", Name: "0x0000...0001", Address: "0x01"}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		rec := models.RoundRecord{
			Round:      uuid.NewString(),
			SessionKey: session,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			EndedAt:    base.Add(time.Duration(i)*time.Minute + time.Minute),
			Pot:        0.3,
			HouseFee:   0.015,
			Holder:     &holder,
			Winners: []models.WinnerResult{
				{Player: models.Player{ID: "player_a", Address: "0x02"}, WinAmount: 0.1425},
				{Player: models.Player{ID: "player_b", Address: "0x03"}, WinAmount: 0.1425},
			},
			DisbursementTx: "0xpayout",
			DisbursementOK: true,
		}
		if err := repo.RecordRound(ctx, rec); err != nil {
			t.Fatalf("RecordRound: %v", err)
		}
		// Recording twice is harmless.
		if err := repo.RecordRound(ctx, rec); err != nil {
			t.Fatalf("RecordRound again: %v", err)
		}
	}

	rounds, err := repo.ListRounds(ctx, session, 10)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(rounds))
	}
	if !rounds[0].EndedAt.After(rounds[1].EndedAt) {
		t.Fatal("rounds not ordered newest first")
	}
	for _, r := range rounds {
		if len(r.Winners) != 2 || r.Winners[0].ID != "player_a" {
			t.Fatalf("winners = %+v", r.Winners)
		}
		if r.Holder == nil || r.Holder.ID != holder.ID {
			t.Fatalf("holder = %+v", r.Holder)
		}
	}
}
