package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"contest_judge/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// LeaderboardCache is a read-through cache of competition standings. A nil
// *LeaderboardCache or a zero TTL disables it.
//
// Every competition has a generation counter that Invalidate bumps. A reader
// fills the cache only under the generation it saw before reading the
// database, so a fill computed before a write commits cannot outlive that
// write's invalidation.
type LeaderboardCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewLeaderboardCache(rdb *redis.Client, prefix string, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		return nil
	}
	return &LeaderboardCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *LeaderboardCache) key(competitionID string) string {
	return c.prefix + ":leaderboard:" + competitionID
}

func (c *LeaderboardCache) genKey(competitionID string) string {
	return c.prefix + ":leaderboard-gen:" + competitionID
}

// KEYS: data, generation
// ARGV: expected generation, payload, ttlMs
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Get reports ok=false on a miss. The returned generation is what a later
// Set must pass.
func (c *LeaderboardCache) Get(ctx context.Context, competitionID string) ([]model.Standing, int64, bool, error) {
	if c == nil {
		return nil, 0, false, nil
	}
	var data, gen *redis.StringCmd
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		gen = p.Get(ctx, c.genKey(competitionID))
		data = p.Get(ctx, c.key(competitionID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("leaderboard cache get: %w", err)
	}

	var generation int64
	if gen.Err() == nil {
		if generation, err = gen.Int64(); err != nil {
			return nil, 0, false, fmt.Errorf("leaderboard cache generation: %w", err)
		}
	}
	raw, err := data.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, generation, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("leaderboard cache get: %w", err)
	}
	var standings []model.Standing
	if err := json.Unmarshal(raw, &standings); err != nil {
		return nil, 0, false, fmt.Errorf("leaderboard cache decode: %w", err)
	}
	return standings, generation, true, nil
}

// Set stores standings unless the competition was invalidated since the
// generation was read. It reports whether the entry was stored.
func (c *LeaderboardCache) Set(ctx context.Context, competitionID string, generation int64, standings []model.Standing) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := json.Marshal(standings)
	if err != nil {
		return false, fmt.Errorf("leaderboard cache encode: %w", err)
	}
	n, err := setIfCurrent.Run(ctx, c.rdb,
		[]string{c.key(competitionID), c.genKey(competitionID)},
		strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("leaderboard cache set: %w", err)
	}
	return n == 1, nil
}

// Invalidate drops the cached standings and starts a new generation.
func (c *LeaderboardCache) Invalidate(ctx context.Context, competitionID string) error {
	if c == nil {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, c.genKey(competitionID))
		p.Del(ctx, c.key(competitionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("leaderboard cache invalidate: %w", err)
	}
	return nil
}
