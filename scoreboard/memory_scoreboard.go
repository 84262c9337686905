package scoreboard

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryScoreboard is an in-process Scoreboard backed by go-cache. Entries
// expire after the TTL given at construction.
type MemoryScoreboard struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryScoreboard creates an in-memory scoreboard.
//
// Parameters:
//   - ttl: Lifetime of each entry (cache.NoExpiration keeps entries forever)
//   - cleanupInterval: Interval at which expired entries are purged
//
// Returns:
//   - A new MemoryScoreboard
func NewMemoryScoreboard(ttl, cleanupInterval time.Duration) *MemoryScoreboard {
	return &MemoryScoreboard{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// Publish implements Scoreboard.
func (b *MemoryScoreboard) Publish(ctx context.Context, key string, s Scores) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	b.cache.Set(key, s, b.ttl)
	return nil
}

// Latest implements Scoreboard.
func (b *MemoryScoreboard) Latest(ctx context.Context, key string) (Scores, bool, error) {
	if err := ctx.Err(); err != nil {
		return Scores{}, false, err
	}

	v, found := b.cache.Get(key)
	if !found {
		return Scores{}, false, nil
	}

	s, ok := v.(Scores)
	return s, ok, nil
}

// Delete implements Scoreboard.
func (b *MemoryScoreboard) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.cache.Delete(key)
	return nil
}

// Len returns the number of unexpired entries.
func (b *MemoryScoreboard) Len() int {
	return b.cache.ItemCount()
}
