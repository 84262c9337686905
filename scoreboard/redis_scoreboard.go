package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// UpdatesChannelSuffix is appended to the key prefix to form the pub/sub
// channel on which every published key is announced.
const UpdatesChannelSuffix = "updates"

// RedisScoreboard stores scores as JSON values under prefix+key and announces
// each update on the prefix+"updates" channel. Concurrent Latest calls for
// the same key share one round trip.
type RedisScoreboard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisScoreboard creates a Redis-backed scoreboard.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	board := NewRedisScoreboard(client, "matchlogger:", 24*time.Hour)
//
// Parameters:
//   - client: Connected go-redis client; the caller owns it
//   - prefix: Prepended to every key
//   - ttl: Expiry of each entry; 0 keeps entries until deleted
func NewRedisScoreboard(client *redis.Client, prefix string, ttl time.Duration) *RedisScoreboard {
	return &RedisScoreboard{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// UpdatesChannel returns the pub/sub channel announcing updated keys.
func (b *RedisScoreboard) UpdatesChannel() string {
	return b.prefix + UpdatesChannelSuffix
}

// Publish implements Scoreboard. The value write and the announcement are
// sent in one pipeline.
func (b *RedisScoreboard) Publish(ctx context.Context, key string, s Scores) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.prefix+key, data, b.ttl)
		pipe.Publish(ctx, b.UpdatesChannel(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish scores for %s: %w", key, err)
	}

	return nil
}

// Latest implements Scoreboard.
func (b *RedisScoreboard) Latest(ctx context.Context, key string) (Scores, bool, error) {
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		val, err := b.client.Get(ctx, b.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get error: %w", err)
		}

		var s Scores
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, fmt.Errorf("unmarshal scores for %s: %w", key, err)
		}

		return &s, nil
	})
	if err != nil {
		return Scores{}, false, err
	}

	s, ok := v.(*Scores)
	if !ok || s == nil {
		return Scores{}, false, nil
	}

	return *s, true, nil
}

// Delete implements Scoreboard.
func (b *RedisScoreboard) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete scores for %s: %w", key, err)
	}

	return nil
}
