// Package matchstore provides PostgreSQL-backed storage for confirmed
// matches. Each row is the durable record of one match both users accepted:
// who was paired, on which interests, and when. Writes are idempotent per
// match ID so a retried save never duplicates a row.
package matchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/looprlabs/loopr/internal/engine"
)

// Store manages finalized matches in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Record is one persisted match row.
type Record struct {
	MatchID         string    `json:"match_id"`
	UserA           string    `json:"user_a"`
	UserB           string    `json:"user_b"`
	SharedInterests []string  `json:"shared_interests"`
	Score           float64   `json:"score"`
	ProposedAt      time.Time `json:"proposed_at"`
	AcceptedAt      time.Time `json:"accepted_at"`
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("matchstore: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("matchstore: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a match store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveFinalizedMatch inserts a confirmed match. Saving the same match ID
// twice is a no-op. Implements the engine's Persistence collaborator.
func (s *Store) SaveFinalizedMatch(ctx context.Context, m engine.FinalizedMatch) error {
	var sharedJSON []byte
	if len(m.SharedInterests) > 0 {
		var err error
		sharedJSON, err = json.Marshal(m.SharedInterests)
		if err != nil {
			return fmt.Errorf("matchstore: marshal shared interests: %w", err)
		}
	}

	const query = `
		INSERT INTO finalized_matches (match_id, user_a, user_b, shared_interests, score, proposed_at, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		m.MatchID,
		m.UserA,
		m.UserB,
		sharedJSON,
		m.Score,
		m.ProposedAt,
		m.AcceptedAt,
	)
	if err != nil {
		return fmt.Errorf("matchstore: insert: %w", err)
	}
	return nil
}

// RecentByUser returns a user's most recent matches, newest first.
func (s *Store) RecentByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	const query = `
		SELECT match_id, user_a, user_b, shared_interests, score, proposed_at, accepted_at
		FROM finalized_matches
		WHERE user_a = $1 OR user_b = $1
		ORDER BY accepted_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("matchstore: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			sharedJSON []byte
		)
		if err := rows.Scan(&rec.MatchID, &rec.UserA, &rec.UserB, &sharedJSON, &rec.Score, &rec.ProposedAt, &rec.AcceptedAt); err != nil {
			return nil, fmt.Errorf("matchstore: scan: %w", err)
		}
		if len(sharedJSON) > 0 {
			if err := json.Unmarshal(sharedJSON, &rec.SharedInterests); err != nil {
				return nil, fmt.Errorf("matchstore: unmarshal shared interests: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSince returns how many matches confirmed within the given window.
func (s *Store) CountSince(ctx context.Context, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM finalized_matches
		WHERE accepted_at >= $1`

	var count int
	err := s.db.QueryRowContext(ctx, query, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("matchstore: count since: %w", err)
	}
	return count, nil
}
