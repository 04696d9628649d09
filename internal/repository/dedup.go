package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classroom/pkg/logger"
)

const WebhookDedupKeyPrefix = "webhook:event:%s"

type webhookDedupRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewWebhookDedupRepository(redis *redis.Client, log logger.Logger) WebhookDedupRepository {
	return &webhookDedupRepository{redis: redis, log: log}
}

func (r *webhookDedupRepository) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := r.redis.SetNX(ctx, fmt.Sprintf(WebhookDedupKeyPrefix, eventID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		r.log.Error("Failed to claim webhook event", "error", err, "event_id", eventID)
		return false, err
	}
	return ok, nil
}

func (r *webhookDedupRepository) Release(ctx context.Context, eventID string) error {
	if err := r.redis.Del(ctx, fmt.Sprintf(WebhookDedupKeyPrefix, eventID)).Err(); err != nil {
		r.log.Error("Failed to release webhook event", "error", err, "event_id", eventID)
		return err
	}
	return nil
}
