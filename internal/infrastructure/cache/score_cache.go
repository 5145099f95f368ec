package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credit-engine/internal/domain/loan"

	"github.com/redis/go-redis/v9"
)

const scoreKeyFormat = "credit-score:%d"

// ScoreCache stores computed credit scores in redis with a bounded TTL.
// Loan issuance invalidates the owning customer's entry, so a cached value
// can only be stale for as long as external processes mutate loan history.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ loan.ScoreCache = (*ScoreCache)(nil)

func NewScoreCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ScoreCache {
	if client == nil {
		panic("redis client cannot be nil for ScoreCache")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ScoreCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "ScoreCache"),
	}
}

func (c *ScoreCache) GetScore(ctx context.Context, customerID int64) (int, bool, error) {
	key := fmt.Sprintf(scoreKeyFormat, customerID)

	score, err := c.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read cached score for customer %d: %w", customerID, err)
	}

	return score, true, nil
}

func (c *ScoreCache) SetScore(ctx context.Context, customerID int64, score int) error {
	key := fmt.Sprintf(scoreKeyFormat, customerID)

	if err := c.client.Set(ctx, key, score, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache score for customer %d: %w", customerID, err)
	}
	c.logger.DebugContext(ctx, "Cached credit score", "customerID", customerID, "score", score, "ttl", c.ttl)
	return nil
}

func (c *ScoreCache) InvalidateScore(ctx context.Context, customerID int64) error {
	key := fmt.Sprintf(scoreKeyFormat, customerID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached score for customer %d: %w", customerID, err)
	}
	c.logger.DebugContext(ctx, "Invalidated cached credit score", "customerID", customerID)
	return nil
}
