package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
    round_id        TEXT PRIMARY KEY,
    session_key     TEXT NOT NULL,
    started_at      TIMESTAMPTZ,
    ended_at        TIMESTAMPTZ NOT NULL,
    pot             DOUBLE PRECISION NOT NULL,
    house_fee       DOUBLE PRECISION NOT NULL,
    holder          JSONB,
    disbursement_tx TEXT,
    disbursement_ok BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS rounds_session_ended_idx ON rounds (session_key, ended_at DESC);

CREATE TABLE IF NOT EXISTS round_payouts (
    round_id TEXT NOT NULL REFERENCES rounds (round_id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    player   JSONB NOT NULL,
    amount   DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (round_id, position)
);
`

// Migrate creates the archive tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	log.Info().Msg("history schema up to date")
	return nil
}
