package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mcdev12/impact/go/internal/sqlutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS arena_rounds (
	round_id    UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	elapsed_ms  BIGINT NOT NULL,
	winner      TEXT,
	draw        BOOLEAN NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS arena_round_penalties (
	round_id UUID NOT NULL REFERENCES arena_rounds (round_id) ON DELETE CASCADE,
	player   TEXT NOT NULL,
	offences INTEGER NOT NULL,
	PRIMARY KEY (round_id, player)
);
`

// Record is one finished round.
type Record struct {
	RoundID   uuid.UUID      `json:"round_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Winner    string         `json:"winner,omitempty"`
	Draw      bool           `json:"draw"`
	Penalties map[string]int `json:"penalties"`
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	sqlutil.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists finished rounds to Postgres.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the history tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// queries binds the history statements to one transaction.
type queries struct {
	tx pgx.Tx
}

func newQueries(tx pgx.Tx) *queries {
	return &queries{tx: tx}
}

func (q *queries) insertRound(ctx context.Context, rec Record) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
		INSERT INTO arena_rounds (round_id, started_at, ended_at, elapsed_ms, winner, draw)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (round_id) DO NOTHING
	`, rec.RoundID, rec.StartedAt, rec.EndedAt, rec.ElapsedMs, nullString(rec.Winner), rec.Draw)
	if err != nil {
		return false, fmt.Errorf("insert round: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) insertPenalty(ctx context.Context, roundID uuid.UUID, player string, offences int) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO arena_round_penalties (round_id, player, offences)
		VALUES ($1, $2, $3)
	`, roundID, player, offences)
	if err != nil {
		return fmt.Errorf("insert penalty for %s: %w", player, err)
	}
	return nil
}

// SaveRound stores rec and its penalties in one transaction. Saving the
// same round twice is a no-op, so JetStream redelivery is safe.
func (s *Store) SaveRound(ctx context.Context, rec Record) (bool, error) {
	var inserted bool
	err := sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		var err error
		inserted, err = q.insertRound(ctx, rec)
		if err != nil || !inserted {
			return err
		}
		for player, offences := range rec.Penalties {
			if err := q.insertPenalty(ctx, rec.RoundID, player, offences); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}

// RecentRounds returns up to limit rounds, newest first.
func (s *Store) RecentRounds(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.round_id, r.started_at, r.ended_at, r.elapsed_ms, r.winner, r.draw,
		       COALESCE((SELECT jsonb_object_agg(p.player, p.offences)
		                 FROM arena_round_penalties p
		                 WHERE p.round_id = r.round_id), '{}'::jsonb)
		FROM arena_rounds r
		ORDER BY r.ended_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var (
			rec       Record
			winner    *string
			penalties []byte
		)
		if err := rows.Scan(&rec.RoundID, &rec.StartedAt, &rec.EndedAt, &rec.ElapsedMs, &winner, &rec.Draw, &penalties); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if winner != nil {
			rec.Winner = *winner
		}
		if err := json.Unmarshal(penalties, &rec.Penalties); err != nil {
			return nil, fmt.Errorf("decode penalties: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return records, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
