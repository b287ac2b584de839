package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"aura/internal/ratelimit/identity"
	"aura/internal/ratelimit/models"
	"aura/pkg/platform/httputil"
)

// QuotaEnforcer is the narrow slice of the enforcer the gate needs.
type QuotaEnforcer interface {
	Check(ctx context.Context, key models.ClientKey, endpoint string) (*models.Decision, error)
}

// Gate wraps handlers with quota enforcement. It runs the enforcer before
// the handler and confines its side effects to response headers; the
// handler's body is untouched on allow.
type Gate struct {
	enforcer   QuotaEnforcer
	logger     *slog.Logger
	disabled   bool
	upgradeURL string
}

type Option func(*Gate)

// WithDisabled turns enforcement off entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(g *Gate) {
		g.disabled = disabled
	}
}

// WithUpgradeURL sets the URL included in monthly-quota rejections.
func WithUpgradeURL(url string) Option {
	return func(g *Gate) {
		g.upgradeURL = url
	}
}

func New(enforcer QuotaEnforcer, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		enforcer:   enforcer,
		logger:     logger,
		upgradeURL: "https://aura.app/upgrade",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.disabled && logger != nil {
		logger.Info("rate limiting disabled")
	}
	return g
}

// Enforce gates a route under the given endpoint name.
func (g *Gate) Enforce(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.disabled {
				next.ServeHTTP(w, r)
				return
			}

			key := identity.Resolve(r)
			decision, err := g.enforcer.Check(r.Context(), key, endpoint)
			if err != nil {
				// Enforcement never breaks the request path.
				if g.logger != nil {
					g.logger.Error("quota check failed", "endpoint", endpoint, "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, decision)
			if key.IsUser() {
				addSubscriptionHeaders(w, decision)
			}

			if !decision.Allowed {
				switch decision.Reason {
				case models.ReasonMonthlyLimitExceeded:
					writeMonthlyLimitExceeded(w, decision, g.upgradeURL)
				default:
					writeRateLimitExceeded(w, decision)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, d *models.Decision) {
	if d == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.RequestsRemaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func addSubscriptionHeaders(w http.ResponseWriter, d *models.Decision) {
	w.Header().Set("X-Subscription-Tier", d.Tier.String())
	w.Header().Set("X-Monthly-Usage", strconv.Itoa(d.MonthlyUsage))
	w.Header().Set("X-Monthly-Limit", strconv.Itoa(d.MonthlyLimit))
	w.Header().Set("X-Monthly-Queries-Remaining", strconv.Itoa(d.MonthlyRemaining()))
}

func writeMonthlyLimitExceeded(w http.ResponseWriter, d *models.Decision, upgradeURL string) {
	w.Header().Set("X-Upgrade-Required", "true")
	httputil.WriteJSON(w, http.StatusPaymentRequired, &models.MonthlyLimitExceededResponse{
		Error: "monthly_limit_exceeded",
		Message: fmt.Sprintf("Monthly query limit reached (%d of %d used on the %s plan). Upgrade to continue.",
			d.MonthlyUsage, d.MonthlyLimit, d.Tier),
		Tier:            d.Tier,
		MonthlyUsage:    d.MonthlyUsage,
		MonthlyLimit:    d.MonthlyLimit,
		UpgradeRequired: true,
		UpgradeURL:      upgradeURL,
	})
}

func writeRateLimitExceeded(w http.ResponseWriter, d *models.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", d.RetryAfter),
		RetryAfter: d.RetryAfter,
	})
}
