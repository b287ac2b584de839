// Package enforcer combines the policy table, subscription source and
// counter store into per-request quota decisions.
package enforcer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"aura/internal/ratelimit/metrics"
	"aura/internal/ratelimit/models"
	"aura/internal/ratelimit/policy"
	"aura/internal/ratelimit/ports"
	dErrors "aura/pkg/domain-errors"
)

const (
	defaultWindow        = 60 * time.Second
	defaultTierCacheTTL  = 300 * time.Second
	defaultUsageCacheTTL = 60 * time.Second
	defaultStoreTimeout  = 2 * time.Second
)

// defaultCostUnits lists the AI-cost-bearing endpoints whose admitted
// requests consume monthly quota.
func defaultCostUnits() map[string]int {
	return map[string]int{
		"ask":        1,
		"ask_media":  1,
		"translate":  1,
		"transcribe": 1,
	}
}

// Service decides, per request, whether to allow and updates counters.
// It owns handles to both stores; no module-level state.
type Service struct {
	counters ports.CounterStore
	subs     ports.SubscriptionSource
	policies *policy.Table

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	group   singleflight.Group

	now           func() time.Time
	window        time.Duration
	tierCacheTTL  time.Duration
	usageCacheTTL time.Duration
	storeTimeout  time.Duration
	costUnits     map[string]int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithWindow overrides the short-window length (default 60s).
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		s.window = window
	}
}

// WithStoreTimeout bounds individual store calls.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.storeTimeout = timeout
	}
}

// WithCostUnits replaces the set of endpoints that consume monthly quota.
func WithCostUnits(costUnits map[string]int) Option {
	return func(s *Service) {
		s.costUnits = costUnits
	}
}

func New(counters ports.CounterStore, subs ports.SubscriptionSource, policies *policy.Table, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, errors.New("counter store is required")
	}
	if subs == nil {
		return nil, errors.New("subscription source is required")
	}
	if policies == nil {
		return nil, errors.New("policy table is required")
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		counters:      counters,
		subs:          subs,
		policies:      policies,
		tracer:        otel.Tracer("aura/internal/ratelimit/enforcer"),
		now:           time.Now,
		window:        defaultWindow,
		tierCacheTTL:  defaultTierCacheTTL,
		usageCacheTTL: defaultUsageCacheTTL,
		storeTimeout:  defaultStoreTimeout,
		costUnits:     defaultCostUnits(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Check evaluates the monthly quota and the short-window rate limit for a
// client/endpoint pair. Store failures never escape this boundary: the
// counter store being unreachable fails open, subscription source failures
// fall back to conservative defaults. The returned error only signals a
// policy misconfiguration that startup validation should have caught.
func (s *Service) Check(ctx context.Context, key models.ClientKey, endpoint string) (*models.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.Check", trace.WithAttributes(
		attribute.String("ratelimit.endpoint", endpoint),
		attribute.Bool("ratelimit.authenticated", key.IsUser()),
	))
	defer span.End()

	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CheckDuration.Observe(s.now().Sub(start).Seconds())
		}
	}()

	if err := s.pingCounters(ctx); err != nil {
		// Fail open: product availability outweighs strict enforcement
		// during infra incidents.
		if s.metrics != nil {
			s.metrics.RecordFailOpen()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "counter store unreachable, failing open",
				"endpoint", endpoint, "error", err)
		}
		return s.degradedDecision(key, endpoint), nil
	}

	var decision *models.Decision
	var err error
	if key.IsUser() {
		decision, err = s.checkUser(ctx, key, endpoint)
	} else {
		decision, err = s.checkAnonymous(ctx, key, endpoint)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		client := "ip"
		if key.IsUser() {
			client = "user"
		}
		s.metrics.RecordCheck(string(decision.Reason), client)
	}
	span.SetAttributes(attribute.Bool("ratelimit.allowed", decision.Allowed))
	return decision, nil
}

func (s *Service) checkUser(ctx context.Context, key models.ClientKey, endpoint string) (*models.Decision, error) {
	userID := key.UserID()
	tier := s.resolveTier(ctx, userID)
	usage := s.resolveMonthlyUsage(ctx, userID)

	entry, err := s.policies.Lookup(tier, endpoint)
	if err != nil {
		return nil, err
	}

	// The monthly check runs first and short-circuits the window check, so
	// "upgrade required" is reported over plain rate limiting when both
	// would fail.
	if !entry.Unlimited() && usage >= entry.MonthlyQuota {
		ports.LogAudit(ctx, s.logger, "monthly_limit_exceeded",
			"user_id", userID,
			"endpoint", endpoint,
			"tier", tier,
			"monthly_usage", usage,
			"monthly_limit", entry.MonthlyQuota,
		)
		_, resetAt := s.currentWindow()
		return &models.Decision{
			Allowed:      false,
			Reason:       models.ReasonMonthlyLimitExceeded,
			Limit:        entry.RequestsPerMinute,
			ResetAt:      resetAt,
			Tier:         tier,
			MonthlyUsage: usage,
			MonthlyLimit: entry.MonthlyQuota,
		}, nil
	}

	decision := s.checkWindow(ctx, key, endpoint, entry)
	decision.Tier = tier
	decision.MonthlyUsage = usage
	decision.MonthlyLimit = entry.MonthlyQuota

	// Monthly usage is consumed on the admission pass only: a request
	// rejected by either check never burns quota.
	if decision.Allowed && !decision.Degraded {
		if cost, ok := s.costUnits[endpoint]; ok {
			if s.recordUsage(ctx, userID, endpoint, cost) {
				decision.MonthlyUsage = usage + cost
			}
		}
	}

	return decision, nil
}

func (s *Service) checkAnonymous(ctx context.Context, key models.ClientKey, endpoint string) (*models.Decision, error) {
	entry, err := s.policies.LookupAnonymous(endpoint)
	if err != nil {
		return nil, err
	}
	decision := s.checkWindow(ctx, key, endpoint, entry)
	decision.MonthlyLimit = models.UnlimitedQuota
	return decision, nil
}

// checkWindow admits against the fixed short window. Rollover is implicit:
// a new window index yields a new key and the old one expires on its own.
func (s *Service) checkWindow(ctx context.Context, key models.ClientKey, endpoint string, entry models.PolicyEntry) *models.Decision {
	windowIndex, resetAt := s.currentWindow()
	windowKey := models.WindowKey(key, endpoint, windowIndex)

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	allowed, count, err := s.counters.AllowWindow(storeCtx, windowKey, entry.RequestsPerMinute, 2*s.window)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordStoreError("counter")
			s.metrics.RecordFailOpen()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "window admission failed, failing open",
				"endpoint", endpoint, "error", err)
		}
		return s.degradedDecision(key, endpoint)
	}

	if !allowed {
		ports.LogAudit(ctx, s.logger, "rate_limit_exceeded",
			"client_key", key.String(),
			"endpoint", endpoint,
			"limit", entry.RequestsPerMinute,
			"window_seconds", int(s.window.Seconds()),
		)
		return &models.Decision{
			Allowed:           false,
			Reason:            models.ReasonRateLimitExceeded,
			Limit:             entry.RequestsPerMinute,
			RequestsMade:      int(count),
			RequestsRemaining: 0,
			ResetAt:           resetAt,
			RetryAfter:        s.retryAfter(resetAt),
		}
	}

	return &models.Decision{
		Allowed:           true,
		Reason:            models.ReasonOK,
		Limit:             entry.RequestsPerMinute,
		RequestsMade:      int(count),
		RequestsRemaining: entry.RequestsPerMinute - int(count),
		ResetAt:           resetAt,
	}
}

// resolveTier reads the tier through the counter store cache (TTL 300s).
// Source errors degrade to the free tier rather than failing the request.
func (s *Service) resolveTier(ctx context.Context, userID string) models.Tier {
	cacheKey := models.TierCacheKey(userID)
	if value, ok, err := s.cacheGet(ctx, cacheKey); err == nil && ok {
		return models.ParseTier(value)
	}

	result, _, _ := s.group.Do(cacheKey, func() (any, error) {
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		sub, err := s.subs.GetSubscription(storeCtx, userID)
		if err != nil {
			if dErrors.CodeOf(err) != dErrors.CodeNotFound {
				s.softSourceFailure(ctx, "get subscription", userID, err)
				return models.TierFree, nil
			}
			// Unknown users are free tier; cache that too.
			sub = &models.Subscription{Tier: models.TierFree}
		}
		s.cacheSet(ctx, cacheKey, sub.Tier.String(), s.tierCacheTTL)
		return sub.Tier, nil
	})
	return result.(models.Tier)
}

// resolveMonthlyUsage reads the month counter through the counter store
// cache (TTL 60s). Source errors degrade to zero usage.
func (s *Service) resolveMonthlyUsage(ctx context.Context, userID string) int {
	cacheKey := models.UsageCacheKey(userID)
	if value, ok, err := s.cacheGet(ctx, cacheKey); err == nil && ok {
		if usage, parseErr := strconv.Atoi(value); parseErr == nil {
			return usage
		}
	}

	result, _, _ := s.group.Do(cacheKey, func() (any, error) {
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		usage, err := s.subs.GetMonthlyUsage(storeCtx, userID)
		if err != nil {
			s.softSourceFailure(ctx, "get monthly usage", userID, err)
			return 0, nil
		}
		s.cacheSet(ctx, cacheKey, strconv.Itoa(usage), s.usageCacheTTL)
		return usage, nil
	})
	return result.(int)
}

// recordUsage writes to the source of truth first, then invalidates the
// cache mirror. The cache is never written blindly: if the source write
// fails the mirror stays untouched, avoiding drift.
func (s *Service) recordUsage(ctx context.Context, userID, endpoint string, cost int) bool {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.subs.RecordUsage(storeCtx, userID, endpoint, cost); err != nil {
		s.softSourceFailure(ctx, "record usage", userID, err)
		return false
	}
	if _, err := s.counters.Delete(ctx, models.UsageCacheKey(userID)); err != nil {
		if s.metrics != nil {
			s.metrics.RecordStoreError("counter")
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to invalidate usage cache",
				"user_id", userID, "error", err)
		}
	}
	return true
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	value, ok, err := s.counters.Get(storeCtx, key)
	if err != nil && s.metrics != nil {
		s.metrics.RecordStoreError("counter")
	}
	return value, ok, err
}

func (s *Service) cacheSet(ctx context.Context, key, value string, ttl time.Duration) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.counters.Set(storeCtx, key, value, ttl); err != nil {
		if s.metrics != nil {
			s.metrics.RecordStoreError("counter")
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to populate cache", "key", key, "error", err)
		}
	}
}

func (s *Service) softSourceFailure(ctx context.Context, op, userID string, err error) {
	if s.metrics != nil {
		s.metrics.RecordStoreError("subscription")
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "subscription source failure, using conservative default",
			"op", op, "user_id", userID, "error", err)
	}
}

func (s *Service) pingCounters(ctx context.Context) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.counters.Ping(storeCtx)
}

// degradedDecision is the fail-open result: allowed, with best-effort limit
// context from the most conservative table that applies.
func (s *Service) degradedDecision(key models.ClientKey, endpoint string) *models.Decision {
	var entry models.PolicyEntry
	if key.IsUser() {
		entry, _ = s.policies.Lookup(models.TierFree, endpoint)
	} else {
		entry, _ = s.policies.LookupAnonymous(endpoint)
	}
	_, resetAt := s.currentWindow()
	return &models.Decision{
		Allowed:           true,
		Reason:            models.ReasonOK,
		Limit:             entry.RequestsPerMinute,
		RequestsMade:      0,
		RequestsRemaining: entry.RequestsPerMinute,
		ResetAt:           resetAt,
		MonthlyLimit:      models.UnlimitedQuota,
		Degraded:          true,
	}
}

// currentWindow returns the window index (floor division) and when it rolls
// over.
func (s *Service) currentWindow() (int64, time.Time) {
	windowSeconds := int64(s.window / time.Second)
	index := s.now().Unix() / windowSeconds
	return index, time.Unix((index+1)*windowSeconds, 0)
}

// retryAfter floors at one second so clients never see Retry-After: 0.
func (s *Service) retryAfter(resetAt time.Time) int {
	retry := int(resetAt.Unix() - s.now().Unix())
	if retry < 1 {
		retry = 1
	}
	return retry
}
