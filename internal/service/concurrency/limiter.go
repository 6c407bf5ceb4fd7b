// Package concurrency rations simultaneous outbound dials per campaign.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// acquireScript increments the campaign's in-flight counter only while it is
// under the limit. The TTL guards against leaked slots from crashed workers.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return current
`)

var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// Limiter is a per-campaign counting semaphore over Redis.
type Limiter struct {
	client  *redis.Client
	prefix  string
	slotTTL time.Duration
}

// NewLimiter constructs the limiter. slotTTL bounds how long a leaked slot
// can suppress dialing.
func NewLimiter(client *redis.Client, prefix string, slotTTL time.Duration) *Limiter {
	if prefix == "" {
		prefix = "dialer:slots"
	}
	if slotTTL <= 0 {
		slotTTL = 2 * time.Minute
	}
	return &Limiter{client: client, prefix: prefix, slotTTL: slotTTL}
}

func (l *Limiter) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", l.prefix, campaignID.String())
}

// Acquire takes one dial slot for the campaign. A zero or negative limit
// means unlimited. Returns ErrUnavailable when the campaign is saturated.
func (l *Limiter) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}
	granted, err := acquireScript.Run(ctx, l.client, []string{l.key(campaignID)},
		limit, l.slotTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("concurrency: acquire slot: %w", err)
	}
	if granted == 0 {
		return fmt.Errorf("%w: campaign %s at its dial limit of %d", apperrors.ErrUnavailable, campaignID, limit)
	}
	return nil
}

// Release frees one dial slot. Releasing below zero is a no-op.
func (l *Limiter) Release(ctx context.Context, campaignID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}).Err(); err != nil {
		return fmt.Errorf("concurrency: release slot: %w", err)
	}
	return nil
}
