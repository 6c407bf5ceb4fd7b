package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, "test:slots", time.Minute)
}

func TestAcquireUpToLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, campaignID, 3); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if err := l.Acquire(ctx, campaignID, 3); !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected saturation, got %v", err)
	}

	if err := l.Release(ctx, campaignID, 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Acquire(ctx, campaignID, 3); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestZeroLimitIsUnlimited(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 10; i++ {
		if err := l.Acquire(ctx, campaignID, 0); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestCampaignsAreIsolated(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	if err := l.Acquire(ctx, a, 1); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if err := l.Acquire(ctx, b, 1); err != nil {
		t.Fatalf("campaign b should have its own budget: %v", err)
	}
	if err := l.Acquire(ctx, a, 1); !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected saturation on a, got %v", err)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	campaignID := uuid.New()

	if err := l.Release(ctx, campaignID, 2); err != nil {
		t.Fatalf("release on empty: %v", err)
	}
	// Counter must still start from zero.
	if err := l.Acquire(ctx, campaignID, 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Acquire(ctx, campaignID, 1); !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected saturation, got %v", err)
	}
}
