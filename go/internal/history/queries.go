package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type roundRow struct {
	RoundID        string
	SessionKey     string
	StartedAt      sql.NullTime
	EndedAt        time.Time
	Pot            float64
	HouseFee       float64
	Holder         pqtype.NullRawMessage
	DisbursementTx sql.NullString
	DisbursementOK bool
}

type payoutRow struct {
	RoundID  string
	Position int32
	Player   pqtype.NullRawMessage
	Amount   float64
}

const insertRound = `
INSERT INTO rounds (round_id, session_key, started_at, ended_at, pot, house_fee, holder, disbursement_tx, disbursement_ok)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (round_id) DO NOTHING`

// insertRound reports whether the round was new.
func (q *Queries) insertRound(ctx context.Context, r roundRow) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertRound,
		r.RoundID, r.SessionKey, r.StartedAt, r.EndedAt, r.Pot, r.HouseFee,
		r.Holder, r.DisbursementTx, r.DisbursementOK,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const insertPayout = `
INSERT INTO round_payouts (round_id, position, player, amount)
VALUES ($1, $2, $3, $4)`

func (q *Queries) insertPayout(ctx context.Context, p payoutRow) error {
	_, err := q.db.ExecContext(ctx, insertPayout, p.RoundID, p.Position, p.Player, p.Amount)
	return err
}

const listRounds = `
SELECT round_id, session_key, started_at, ended_at, pot, house_fee, holder, disbursement_tx, disbursement_ok
FROM rounds
WHERE session_key = $1
ORDER BY ended_at DESC
LIMIT $2`

func (q *Queries) listRounds(ctx context.Context, sessionKey string, limit int32) ([]roundRow, error) {
	rows, err := q.db.QueryContext(ctx, listRounds, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []roundRow
	for rows.Next() {
		var r roundRow
		if err := rows.Scan(
			&r.RoundID, &r.SessionKey, &r.StartedAt, &r.EndedAt, &r.Pot, &r.HouseFee,
			&r.Holder, &r.DisbursementTx, &r.DisbursementOK,
		); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const listPayouts = `
SELECT round_id, position, player, amount
FROM round_payouts
WHERE round_id = ANY($1)
ORDER BY round_id, position`

func (q *Queries) listPayouts(ctx context.Context, roundIDs []string) ([]payoutRow, error) {
	rows, err := q.db.QueryContext(ctx, listPayouts, pq.Array(roundIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []payoutRow
	for rows.Next() {
		var p payoutRow
		if err := rows.Scan(&p.RoundID, &p.Position, &p.Player, &p.Amount); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
