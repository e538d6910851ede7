// Package unread keeps per (user, room) unread counters. Counters are
// incremented when a message fans out to a participant other than the
// sender and zeroed by a read acknowledgement; they are never negative.
package unread

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Store abstracts the unread counter backend.
type Store interface {
	Increment(ctx context.Context, userID int, roomID int) (int, error)
	Clear(ctx context.Context, userID int, roomID int) error
	Counts(ctx context.Context, userID int) (map[int]int, error)
}

// RedisStore keeps one hash per user, keyed by room id.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func userKey(userID int) string {
	return fmt.Sprintf("unread:%d", userID)
}

// Increment bumps the user's counter for the room and returns the new value.
func (s *RedisStore) Increment(ctx context.Context, userID int, roomID int) (int, error) {
	count, err := s.client.HIncrBy(ctx, userKey(userID), strconv.Itoa(roomID), 1).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Clear zeroes the user's counter for the room. A missing field already
// counts as zero, so the field is deleted rather than set.
func (s *RedisStore) Clear(ctx context.Context, userID int, roomID int) error {
	return s.client.HDel(ctx, userKey(userID), strconv.Itoa(roomID)).Err()
}

// Counts returns every non-zero counter for the user, keyed by room id.
func (s *RedisStore) Counts(ctx context.Context, userID int) (map[int]int, error) {
	fields, err := s.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int, len(fields))
	for field, value := range fields {
		roomID, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil || count <= 0 {
			continue
		}
		counts[roomID] = count
	}
	return counts, nil
}
