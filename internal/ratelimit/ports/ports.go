// Package ports defines shared interfaces for the ratelimit module.
// Interfaces live here when consumed by multiple services to avoid
// duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"aura/internal/ratelimit/models"
	request "aura/pkg/platform/middleware/requestid"
)

// CounterStore is the external key-value cache with per-key expiry backing
// short-window counters and read-through caches. Implementations must
// tolerate being unavailable without crashing the caller.
type CounterStore interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// ScanPrefix returns all keys sharing the given prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Ping is the liveness probe consulted before enforcement.
	Ping(ctx context.Context) error

	// AllowWindow atomically admits one request against a window counter:
	// if the current count is below limit it increments and returns the new
	// count, otherwise it leaves the counter untouched. The key's TTL is set
	// on creation. Never implemented as read-then-write in the application.
	AllowWindow(ctx context.Context, key string, limit int, ttl time.Duration) (allowed bool, count int64, err error)
}

// SubscriptionSource is the relational store of record for subscription
// tiers and monthly usage.
type SubscriptionSource interface {
	// GetSubscription returns a user's current subscription.
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)

	// GetMonthlyUsage returns the user's current calendar-month usage count.
	GetMonthlyUsage(ctx context.Context, userID string) (int, error)

	// RecordUsage appends a usage event for a cost-bearing endpoint.
	RecordUsage(ctx context.Context, userID, endpoint string, costUnits int) error
}

// LogAudit is a shared helper for logging audit events across ratelimit
// services. Attrs are key/value pairs in slog order.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := request.GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
