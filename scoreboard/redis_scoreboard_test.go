package scoreboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisScoreboard_PublishLatest(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisScoreboard(client, "ml:", time.Hour)
	ctx := context.Background()

	t.Run("unknown key", func(t *testing.T) {
		_, found, err := b.Latest(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("stores json under prefixed key with ttl", func(t *testing.T) {
		require.NoError(t, b.Publish(ctx, "team-a", Scores{Score0: 3.5, Score1: 7.25}))

		raw, err := mr.Get("ml:team-a")
		require.NoError(t, err)
		assert.Contains(t, raw, `"score0":3.5`)
		assert.Contains(t, raw, `"score1":7.25`)
		assert.Equal(t, time.Hour, mr.TTL("ml:team-a"))

		s, found, err := b.Latest(ctx, "team-a")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 3.5, s.Score0)
		assert.Equal(t, 7.25, s.Score1)
		assert.False(t, s.Final)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, "team-a"))
		assert.False(t, mr.Exists("ml:team-a"))
	})
}

func TestRedisScoreboard_AnnouncesUpdates(t *testing.T) {
	_, client := newTestRedis(t)
	b := NewRedisScoreboard(client, "ml:", 0)
	ctx := context.Background()

	sub := client.Subscribe(ctx, b.UpdatesChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "team-b", Scores{Score0: 1, Final: true}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "ml:updates", msg.Channel)
		assert.Equal(t, "team-b", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no update announced")
	}
}

func TestRedisScoreboard_CorruptValue(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisScoreboard(client, "ml:", 0)

	require.NoError(t, mr.Set("ml:broken", "not json"))

	_, _, err := b.Latest(context.Background(), "broken")
	assert.Error(t, err)
}

func TestRedisScoreboard_ServerDown(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisScoreboard(client, "ml:", 0)
	mr.Close()

	assert.Error(t, b.Publish(context.Background(), "k", Scores{}))
	_, _, err := b.Latest(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisScoreboard_ConcurrentLatest(t *testing.T) {
	_, client := newTestRedis(t)
	b := NewRedisScoreboard(client, "ml:", 0)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "k", Scores{Score0: 2, Score1: 3}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, found, err := b.Latest(ctx, "k")
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 3.0, s.Score1)
		}()
	}
	wg.Wait()
}
