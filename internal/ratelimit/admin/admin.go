// Package admin exposes operator maintenance over the ratelimit state:
// resetting a client's counters and reporting the configured policy tables.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"aura/internal/ratelimit/models"
	"aura/internal/ratelimit/policy"
	"aura/internal/ratelimit/ports"
	dErrors "aura/pkg/domain-errors"
)

type Service struct {
	counters ports.CounterStore
	policies *policy.Table
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(counters ports.CounterStore, policies *policy.Table, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, errors.New("counter store is required")
	}
	if policies == nil {
		return nil, errors.New("policy table is required")
	}

	svc := &Service{
		counters: counters,
		policies: policies,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ResetClient deletes every window counter for a client by prefix scan.
// Deletions go through the counter store's own primitives so the atomicity
// guarantees of live counters are preserved.
func (s *Service) ResetClient(ctx context.Context, key models.ClientKey) (int, error) {
	if key == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "client_key is required")
	}

	keys, err := s.counters.ScanPrefix(ctx, models.ClientWindowPrefix(key))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan client counters")
	}

	deleted := 0
	for _, counterKey := range keys {
		existed, err := s.counters.Delete(ctx, counterKey)
		if err != nil {
			return deleted, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete counter")
		}
		if existed {
			deleted++
		}
	}

	ports.LogAudit(ctx, s.logger, "rate_limit_counters_reset",
		"client_key", key.String(),
		"keys_deleted", deleted,
	)
	return deleted, nil
}

// PolicyReport returns the configured policy tables.
func (s *Service) PolicyReport() *models.PolicyReport {
	return s.policies.Snapshot()
}
