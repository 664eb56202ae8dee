package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/hotpotato/go/internal/models"
	"github.com/mcdev12/hotpotato/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

const maxListLimit = 100

// Repository archives finished rounds in Postgres.
type Repository struct {
	db      *sql.DB
	queries *Queries
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:      db,
		queries: New(db),
	}
}

// RecordRound stores the round and its payouts in one transaction. Recording
// the same round twice is a no-op.
func (r *Repository) RecordRound(ctx context.Context, rec models.RoundRecord) error {
	var holder pqtype.NullRawMessage
	if rec.Holder != nil {
		data, err := json.Marshal(rec.Holder)
		if err != nil {
			return fmt.Errorf("failed to marshal holder: %w", err)
		}
		holder = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}

	payouts := make([]payoutRow, 0, len(rec.Winners))
	for i, w := range rec.Winners {
		data, err := json.Marshal(w.Player)
		if err != nil {
			return fmt.Errorf("failed to marshal winner: %w", err)
		}
		payouts = append(payouts, payoutRow{
			RoundID:  rec.Round,
			Position: int32(i),
			Player:   pqtype.NullRawMessage{RawMessage: data, Valid: true},
			Amount:   w.WinAmount,
		})
	}

	err := sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *Queries) error {
		created, err := q.insertRound(ctx, roundRow{
			RoundID:        rec.Round,
			SessionKey:     rec.SessionKey,
			StartedAt:      sqlutil.ToSqlTime(rec.StartedAt),
			EndedAt:        rec.EndedAt,
			Pot:            rec.Pot,
			HouseFee:       rec.HouseFee,
			Holder:         holder,
			DisbursementTx: sqlutil.ToSqlString(rec.DisbursementTx),
			DisbursementOK: rec.DisbursementOK,
		})
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}
		if !created {
			return nil
		}
		for _, p := range payouts {
			if err := q.insertPayout(ctx, p); err != nil {
				return fmt.Errorf("failed to insert payout: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("round_id", rec.Round).
		Str("session", rec.SessionKey).
		Int("winners", len(rec.Winners)).
		Msg("round archived")
	return nil
}

// ListRounds returns the newest rounds of a session first.
func (r *Repository) ListRounds(ctx context.Context, sessionKey string, limit int) ([]models.RoundRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.queries.listRounds(ctx, sessionKey, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	if len(rows) == 0 {
		return []models.RoundRecord{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.RoundID
	}
	payouts, err := r.queries.listPayouts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	winners := make(map[string][]models.WinnerResult, len(rows))
	for _, p := range payouts {
		var player models.Player
		if err := json.Unmarshal(p.Player.RawMessage, &player); err != nil {
			return nil, fmt.Errorf("failed to unmarshal winner: %w", err)
		}
		winners[p.RoundID] = append(winners[p.RoundID], models.WinnerResult{Player: player, WinAmount: p.Amount})
	}

	records := make([]models.RoundRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := r.dbRoundToModel(row, winners[row.RoundID])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) dbRoundToModel(row roundRow, winners []models.WinnerResult) (models.RoundRecord, error) {
	rec := models.RoundRecord{
		Round:          row.RoundID,
		SessionKey:     row.SessionKey,
		StartedAt:      sqlutil.FromSqlTime(row.StartedAt),
		EndedAt:        row.EndedAt.UTC(),
		Pot:            row.Pot,
		HouseFee:       row.HouseFee,
		Winners:        winners,
		DisbursementTx: sqlutil.FromSqlString(row.DisbursementTx, ""),
		DisbursementOK: row.DisbursementOK,
	}
	if rec.Winners == nil {
		rec.Winners = []models.WinnerResult{}
	}
	if row.Holder.Valid {
		var holder models.Player
		if err := json.Unmarshal(row.Holder.RawMessage, &holder); err != nil {
			return rec, fmt.Errorf("failed to unmarshal holder: %w", err)
		}
		rec.Holder = &holder
	}
	return rec, nil
}
