package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_stats (
	user_id         TEXT PRIMARY KEY,
	elo             INTEGER NOT NULL DEFAULT 0,
	top_elo         INTEGER NOT NULL DEFAULT 0,
	wins            INTEGER NOT NULL DEFAULT 0,
	losses          INTEGER NOT NULL DEFAULT 0,
	ships_destroyed INTEGER NOT NULL DEFAULT 0,
	total_shots     INTEGER NOT NULL DEFAULT 0,
	total_hits      INTEGER NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS match_results (
	match_id        TEXT PRIMARY KEY,
	winner_id       TEXT NOT NULL,
	loser_id        TEXT NOT NULL,
	reason          TEXT NOT NULL,
	end_time        TIMESTAMPTZ NOT NULL,
	total_shots     INTEGER NOT NULL,
	ships_destroyed INTEGER NOT NULL
);`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure stats schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRepository) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	const query = `
		SELECT user_id, elo, top_elo, wins, losses, ships_destroyed, total_shots, total_hits, updated_at
		FROM user_stats
		WHERE user_id = $1`
	s, err := scanUserStats(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user stats: %w", err)
	}
	return s, nil
}

// ApplyDelta is a single upsert so concurrent terminations touching the same
// user never lose an update. The inserted row is Apply on a fresh record; the
// conflict branch mirrors Apply in SQL. Parameters carry explicit casts since
// lib/pq sends them untyped.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, d Delta, initialElo int) (*UserStats, error) {
	const query = `
		INSERT INTO user_stats (
			user_id, elo, top_elo, wins, losses, ships_destroyed, total_shots, total_hits, updated_at
		)
		VALUES ($1::text, $2::integer, $3::integer, $4::integer, $5::integer, $6::integer, $7::integer, $8::integer, now())
		ON CONFLICT (user_id) DO UPDATE SET
			elo = GREATEST(0, user_stats.elo + $9::integer),
			top_elo = GREATEST(user_stats.top_elo, GREATEST(0, user_stats.elo + $9::integer)),
			wins = user_stats.wins + $10::integer,
			losses = user_stats.losses + $11::integer,
			ships_destroyed = user_stats.ships_destroyed + $6::integer,
			total_shots = user_stats.total_shots + $7::integer,
			total_hits = user_stats.total_hits + $8::integer,
			updated_at = now()
		RETURNING user_id, elo, top_elo, wins, losses, ships_destroyed, total_shots, total_hits, updated_at`
	s, err := scanUserStats(r.db.QueryRowContext(ctx, query, upsertArgs(d, initialElo)...))
	if err != nil {
		return nil, fmt.Errorf("apply stats delta for %s: %w", d.UserID, err)
	}
	return s, nil
}

// upsertArgs are the ApplyDelta parameters: $1..$8 describe the row inserted
// for a first match, $9..$11 the increments applied to an existing row.
func upsertArgs(d Delta, initialElo int) []any {
	first := Apply(Fresh(d.UserID, initialElo), d)
	wins, losses := 0, 1
	if d.Won {
		wins, losses = 1, 0
	}
	return []any{
		first.UserID, first.Elo, first.TopElo, first.Wins, first.Losses,
		first.ShipsDestroyed, first.TotalShots, first.TotalHits,
		d.Elo, wins, losses,
	}
}

func (r *PostgresRepository) InsertMatchResult(ctx context.Context, m MatchResult) error {
	const query = `
		INSERT INTO match_results (
			match_id, winner_id, loser_id, reason, end_time, total_shots, ships_destroyed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		m.MatchID, m.WinnerID, m.LoserID, m.Reason, m.EndTime, m.TotalShots, m.ShipsDestroyed,
	)
	if err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateResult
	}
	return nil
}

func (r *PostgresRepository) GetMatchResult(ctx context.Context, matchID string) (*MatchResult, error) {
	const query = `
		SELECT match_id, winner_id, loser_id, reason, end_time, total_shots, ships_destroyed
		FROM match_results
		WHERE match_id = $1`
	var m MatchResult
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(
		&m.MatchID, &m.WinnerID, &m.LoserID, &m.Reason, &m.EndTime, &m.TotalShots, &m.ShipsDestroyed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select match result: %w", err)
	}
	return &m, nil
}

func scanUserStats(row *sql.Row) (*UserStats, error) {
	var s UserStats
	if err := row.Scan(
		&s.UserID,
		&s.Elo,
		&s.TopElo,
		&s.Wins,
		&s.Losses,
		&s.ShipsDestroyed,
		&s.TotalShots,
		&s.TotalHits,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
