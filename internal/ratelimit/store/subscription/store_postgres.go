package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aura/internal/ratelimit/models"
	dErrors "aura/pkg/domain-errors"
)

// PostgresSource is the production SubscriptionSource. The relational store
// remains the source of truth for tiers and monthly usage; the counter store
// only ever mirrors it.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed subscription source.
func NewPostgres(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const query = `SELECT tier, status FROM subscriptions WHERE user_id = $1`

	var tier, status string
	err := s.pool.QueryRow(ctx, query, userID).Scan(&tier, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no subscription for user")
	}
	if err != nil {
		return nil, wrapPgErr(err, "get subscription failed")
	}
	return &models.Subscription{Tier: models.ParseTier(tier), Status: status}, nil
}

func (s *PostgresSource) GetMonthlyUsage(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COALESCE(SUM(cost_units), 0)
		FROM usage_events
		WHERE user_id = $1
		  AND occurred_at >= date_trunc('month', now())`

	var usage int
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&usage); err != nil {
		return 0, wrapPgErr(err, "get monthly usage failed")
	}
	return usage, nil
}

func (s *PostgresSource) RecordUsage(ctx context.Context, userID, endpoint string, costUnits int) error {
	const query = `
		INSERT INTO usage_events (id, user_id, endpoint, cost_units, occurred_at)
		VALUES ($1, $2, $3, $4, now())`

	if _, err := s.pool.Exec(ctx, query, uuid.NewString(), userID, endpoint, costUnits); err != nil {
		return wrapPgErr(err, "record usage failed")
	}
	return nil
}

func wrapPgErr(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, message)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, message)
}
