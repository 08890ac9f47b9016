// Package storage persists match history, per-player statistics and public
// identity data in PostgreSQL. Writes are best-effort: a database outage must
// never stall a running match, so failures are logged and swallowed.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

// ErrNotFound is returned when a player has no stored identity.
var ErrNotFound = errors.New("player not found")

const writeTimeout = 5 * time.Second

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// Open connects a pool against the given DSN and verifies it with a ping.
func Open(ctx context.Context, dsn string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.L()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, log: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Lookup loads the public identity and lifetime stats for one player.
func (s *Store) Lookup(ctx context.Context, userID string) (protocol.PlayerInfo, error) {
	if s == nil || s.pool == nil {
		return protocol.PlayerInfo{}, ErrNotFound
	}
	const query = `
		SELECT display_name, COALESCE(avatar_url, ''), games_won, total_points
		FROM players
		WHERE id = $1`
	info := protocol.PlayerInfo{ID: userID}
	err := s.pool.QueryRow(ctx, query, userID).
		Scan(&info.DisplayName, &info.AvatarURL, &info.GamesWon, &info.TotalPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.PlayerInfo{}, ErrNotFound
	}
	if err != nil {
		return protocol.PlayerInfo{}, err
	}
	return info, nil
}

// SaveMatch upserts the row for one match keyed by its room id. Active rows
// describe matches still in play; the final write flips active to false with
// the closing score. The write runs on its own goroutine so a slow database
// never stalls the calling tick loop.
func (s *Store) SaveMatch(ctx context.Context, roomID, player1ID, player2ID string, score1, score2 int, active bool) {
	if s == nil || s.pool == nil {
		return
	}
	const query = `
		INSERT INTO matches (room_id, player1_id, player2_id, score1, score2, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (room_id) DO UPDATE
		SET score1 = EXCLUDED.score1,
		    score2 = EXCLUDED.score2,
		    active = EXCLUDED.active,
		    updated_at = NOW()`
	writeCtx, cancel := context.WithTimeout(withoutCancel(ctx), writeTimeout)
	go func() {
		defer cancel()
		if _, err := s.pool.Exec(writeCtx, query, roomID, player1ID, player2ID, score1, score2, active); err != nil {
			s.log.Warn("match history write failed",
				logging.String("room_id", roomID),
				logging.Error(err))
		}
	}()
}

// RecordGameResult folds one finished match into the player's lifetime stats.
func (s *Store) RecordGameResult(ctx context.Context, userID string, pointsScored int, won bool) {
	if s == nil || s.pool == nil {
		return
	}
	wonDelta := 0
	if won {
		wonDelta = 1
	}
	const query = `
		UPDATE players
		SET games_played = games_played + 1,
		    games_won = games_won + $2,
		    total_points = total_points + $3
		WHERE id = $1`
	writeCtx, cancel := context.WithTimeout(withoutCancel(ctx), writeTimeout)
	go func() {
		defer cancel()
		if _, err := s.pool.Exec(writeCtx, query, userID, wonDelta, pointsScored); err != nil {
			s.log.Warn("player stats write failed",
				logging.String("user_id", userID),
				logging.Error(err))
		}
	}()
}

// withoutCancel keeps request-scoped values but detaches the write from the
// caller's cancellation, so a disconnect cannot abort the final row.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
