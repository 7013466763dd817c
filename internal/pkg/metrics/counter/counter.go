package counter

import (
	"context"
	"strconv"

	"github.com/finpilot/billing/internal/pkg/cache"
)

const (
	webhookReceivedKey  = "billing:counters:webhooks:received"
	webhookProcessedKey = "billing:counters:webhooks:processed"
	webhookDroppedKey   = "billing:counters:webhooks:dropped"
)

// AddWebhookReceived increments the per-provider delivery counter in Redis
func AddWebhookReceived(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookReceivedKey, provider, 1).Err()
}

// AddWebhookProcessed increments the per-provider/kind processed counter in Redis
func AddWebhookProcessed(provider, kind string) error {
	ctx := context.Background()
	field := provider + ":" + kind
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, field, 1).Err()
}

// AddWebhookDropped increments the per-provider/reason dropped counter in Redis
func AddWebhookDropped(provider, reason string) error {
	ctx := context.Background()
	field := provider + ":" + reason
	return cache.GetClient().HIncrBy(ctx, webhookDroppedKey, field, 1).Err()
}

// Snapshot returns the current webhook counters grouped by stage.
func Snapshot() (map[string]map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]int64, 3)
	for stage, key := range map[string]string{
		"received":  webhookReceivedKey,
		"processed": webhookProcessedKey,
		"dropped":   webhookDroppedKey,
	} {
		fields, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		stageCounts := make(map[string]int64, len(fields))
		for field, raw := range fields {
			n, _ := strconv.ParseInt(raw, 10, 64)
			stageCounts[field] = n
		}
		out[stage] = stageCounts
	}
	return out, nil
}
