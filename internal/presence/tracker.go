// Package presence tracks which players currently hold a live connection,
// backed by Redis so every broker instance shares one view.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"paddleserve/broker/internal/logging"
)

const (
	// StatusOnline marks a user with at least one live connection.
	StatusOnline = "online"
	// StatusOffline marks a user with no live connections.
	StatusOffline = "offline"

	onlineSetKey = "online_users"
)

func statusKey(userID string) string      { return "user_status:" + userID }
func connectionsKey(userID string) string { return "user_connections:" + userID }

// Tracker mirrors connection lifecycles into Redis. Every method degrades
// gracefully: presence is advisory and must never take gameplay down with it.
type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logging.Logger
}

// NewTracker wires a tracker to the given Redis endpoint. The TTL bounds how
// long a stale status survives a crashed broker.
func NewTracker(addr, password string, ttl time.Duration, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.L()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Tracker{client: client, ttl: ttl, log: logger}
}

// NewTrackerWithClient wraps an existing client, primarily for tests.
func NewTrackerWithClient(client redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.L()
	}
	return &Tracker{client: client, ttl: ttl, log: logger}
}

// Connect records one more live connection for the user and reports whether
// this was the transition from offline to online. A connection counter keeps
// the status online while any tab or device remains attached.
func (t *Tracker) Connect(ctx context.Context, userID string) bool {
	if t == nil || t.client == nil || userID == "" {
		return false
	}
	pipe := t.client.Pipeline()
	count := pipe.Incr(ctx, connectionsKey(userID))
	pipe.Expire(ctx, connectionsKey(userID), t.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Set(ctx, statusKey(userID), StatusOnline, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("presence connect update failed",
			logging.String("user_id", userID),
			logging.Error(err))
		return false
	}
	return count.Val() == 1
}

// Disconnect records one connection going away and reports whether the user
// just went offline, which happens only once the last connection is gone.
func (t *Tracker) Disconnect(ctx context.Context, userID string) bool {
	if t == nil || t.client == nil || userID == "" {
		return false
	}
	remaining, err := t.client.Decr(ctx, connectionsKey(userID)).Result()
	if err != nil {
		t.log.Warn("presence disconnect update failed",
			logging.String("user_id", userID),
			logging.Error(err))
		return false
	}
	if remaining > 0 {
		return false
	}
	if remaining < 0 {
		//1.- The matching connect never counted, so this session was never
		// marked online. Drop the stray counter without announcing anything.
		if err := t.client.Del(ctx, connectionsKey(userID)).Err(); err != nil {
			t.log.Warn("presence counter cleanup failed",
				logging.String("user_id", userID),
				logging.Error(err))
		}
		return false
	}
	pipe := t.client.Pipeline()
	pipe.Del(ctx, connectionsKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	pipe.Set(ctx, statusKey(userID), StatusOffline, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("presence disconnect update failed",
			logging.String("user_id", userID),
			logging.Error(err))
	}
	return true
}

// Status reports the stored status for one user, defaulting to offline when
// the key is missing or Redis is unreachable.
func (t *Tracker) Status(ctx context.Context, userID string) string {
	if t == nil || t.client == nil || userID == "" {
		return StatusOffline
	}
	status, err := t.client.Get(ctx, statusKey(userID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return StatusOffline
	case err != nil:
		t.log.Warn("presence status lookup failed",
			logging.String("user_id", userID),
			logging.Error(err))
		return StatusOffline
	}
	return status
}

// Online lists every user currently marked online.
func (t *Tracker) Online(ctx context.Context) []string {
	if t == nil || t.client == nil {
		return nil
	}
	members, err := t.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		t.log.Warn("presence listing failed", logging.Error(err))
		return nil
	}
	return members
}

// Close releases the underlying Redis client.
func (t *Tracker) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
