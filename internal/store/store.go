// Package store provides PostgreSQL-backed persistence for users, tasks,
// match records and rating history. Settlement writes run in a single
// transaction; rating updates are atomic increments so concurrent matches
// involving disjoint users never interfere.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/quizduel/arena/internal/elo"
	"github.com/quizduel/arena/internal/match"
)

// Valid match record results, matching the CHECK constraint on matches.
var validResults = map[string]bool{
	"a_wins":    true,
	"b_wins":    true,
	"draw":      true,
	"cancelled": true,
}

// User is a resolved account as the gateway needs it.
type User struct {
	ID       int64
	Username string
	Rating   float64
	Rank     string
	Banned   bool
}

// Store manages duel persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResolveUser looks up an account by username. Returns nil if unknown.
func (s *Store) ResolveUser(ctx context.Context, username string) (*User, error) {
	const query = `
		SELECT id, username, rating, rank, banned
		FROM users
		WHERE username = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&u.ID, &u.Username, &u.Rating, &u.Rank, &u.Banned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve user %q: %w", username, err)
	}
	return &u, nil
}

// RandomBatch returns up to n random tasks. The runner treats fewer than
// n as an insufficient repository.
func (s *Store) RandomBatch(ctx context.Context, n int) ([]match.Problem, error) {
	const query = `
		SELECT id, correct_answer
		FROM tasks
		ORDER BY random()
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("store: random tasks: %w", err)
	}
	defer rows.Close()

	var problems []match.Problem
	for rows.Next() {
		var p match.Problem
		if err := rows.Scan(&p.ID, &p.Answer); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: random tasks: %w", err)
	}
	return problems, nil
}

// SettleMatch applies both rating deltas, recomputes rank bands, and
// writes the match record plus one rating-history row per player, all in
// one transaction. On success it fills s.RatingAfterA/B.
func (s *Store) SettleMatch(ctx context.Context, st *match.Settlement) error {
	if !validResults[st.Result] {
		return fmt.Errorf("store: invalid result %q", st.Result)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin settlement: %w", err)
	}
	defer tx.Rollback()

	afterA, err := applyDelta(ctx, tx, st.PlayerA, st.DeltaA)
	if err != nil {
		return err
	}
	afterB, err := applyDelta(ctx, tx, st.PlayerB, st.DeltaB)
	if err != nil {
		return err
	}

	if err := insertMatch(ctx, tx, st.PlayerA, st.PlayerB, st.Result, st.DeltaA, st.DeltaB); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, st.PlayerA, afterA, st.DeltaA); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, st.PlayerB, afterB, st.DeltaB); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit settlement: %w", err)
	}

	st.RatingAfterA = afterA
	st.RatingAfterB = afterB
	return nil
}

// SettleCancelled writes the cancelled match record and two zero-delta
// history rows in one transaction. Ratings are untouched.
func (s *Store) SettleCancelled(ctx context.Context, c *match.Cancellation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin cancellation: %w", err)
	}
	defer tx.Rollback()

	if err := insertMatch(ctx, tx, c.PlayerA, c.PlayerB, "cancelled", 0, 0); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, c.PlayerA, c.RatingA, 0); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, c.PlayerB, c.RatingB, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit cancellation: %w", err)
	}
	return nil
}

// applyDelta atomically increments one user's rating, keeps it at one
// decimal place, refreshes the rank band, and returns the new rating.
func applyDelta(ctx context.Context, tx *sql.Tx, userID int64, delta float64) (float64, error) {
	const update = `
		UPDATE users
		SET rating = round((rating + $1)::numeric, 1)
		WHERE id = $2
		RETURNING rating`

	var after float64
	if err := tx.QueryRowContext(ctx, update, delta, userID).Scan(&after); err != nil {
		return 0, fmt.Errorf("store: apply delta to user %d: %w", userID, err)
	}

	const setRank = `UPDATE users SET rank = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, setRank, elo.RankFor(after), userID); err != nil {
		return 0, fmt.Errorf("store: update rank of user %d: %w", userID, err)
	}
	return after, nil
}

func insertMatch(ctx context.Context, tx *sql.Tx, playerA, playerB int64, result string, deltaA, deltaB float64) error {
	const query = `
		INSERT INTO matches (player_a, player_b, result, delta_a, delta_b)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := tx.ExecContext(ctx, query, playerA, playerB, result, deltaA, deltaB); err != nil {
		return fmt.Errorf("store: insert match: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, userID int64, ratingAfter, delta float64) error {
	const query = `
		INSERT INTO rating_history (user_id, rating_after, delta)
		VALUES ($1, $2, $3)`

	if _, err := tx.ExecContext(ctx, query, userID, ratingAfter, delta); err != nil {
		return fmt.Errorf("store: insert history for user %d: %w", userID, err)
	}
	return nil
}
