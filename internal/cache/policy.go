package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

// missingPolicy marks a tenant known to have no stored policy.
const missingPolicy = "none"

// PolicyCache is a read-through Redis cache in front of a PolicyReader.
// Redis failures fall back to the source; they never fail a lookup.
type PolicyCache struct {
	source store.PolicyReader
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.PolicyReader = (*PolicyCache)(nil)

func NewPolicyCache(source store.PolicyReader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *PolicyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyCache{
		source: source,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func policyKey(tenantID string) string {
	return fmt.Sprintf("policy:tenant:%s", tenantID)
}

func (pc *PolicyCache) GetPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error) {
	key := policyKey(tenantID)

	cached, err := pc.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == missingPolicy {
			return nil, store.ErrNotFound
		}
		var p models.TenantPolicy
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			return &p, nil
		}
		pc.logger.Warn("discarding malformed cached policy", slog.String("tenant_id", tenantID))
	case !errors.Is(err, redis.Nil):
		pc.logger.Warn("policy cache read failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		return pc.source.GetPolicy(ctx, tenantID)
	}

	p, err := pc.source.GetPolicy(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		pc.set(ctx, key, missingPolicy)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(p); err == nil {
		pc.set(ctx, key, string(encoded))
	}
	return p, nil
}

// Invalidate drops the cached policy so the next lookup reads the source.
func (pc *PolicyCache) Invalidate(ctx context.Context, tenantID string) error {
	return pc.redis.Del(ctx, policyKey(tenantID)).Err()
}

func (pc *PolicyCache) set(ctx context.Context, key, value string) {
	if err := pc.redis.Set(ctx, key, value, pc.ttl).Err(); err != nil {
		pc.logger.Warn("policy cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
