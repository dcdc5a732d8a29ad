// Package ban provides temporary ban records backed by Redis. Permanent
// bans live on the user row in Postgres; this store covers moderator
// cooldowns that expire on their own:
//
//	Key:   ban:<user_id>
//	Value: <reason>
//	TTL:   ban duration
package ban

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Prefix is the Redis key prefix for ban records.
const Prefix = "ban:"

// Store manages temporary bans in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(userID int64) string {
	return Prefix + strconv.FormatInt(userID, 10)
}

// IsBanned reports whether the user is currently banned, with the reason.
// Redis errors are returned so the caller can choose its policy; the
// gateway fails open.
func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, string, error) {
	reason, err := s.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}

// Ban places a temporary ban that expires after the given duration.
func (s *Store) Ban(ctx context.Context, userID int64, duration time.Duration, reason string) error {
	return s.client.Set(ctx, key(userID), reason, duration).Err()
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, key(userID)).Err()
}
