package subscription

import (
	"context"
	"sync"

	"aura/internal/ratelimit/models"
	dErrors "aura/pkg/domain-errors"
)

// InMemorySource implements SubscriptionSource with process-local state.
// Test double; production uses PostgresSource.
type InMemorySource struct {
	mu            sync.Mutex
	subscriptions map[string]models.Subscription
	usage         map[string]int
	failWith      error
	usageRecords  []UsageRecord
}

// UsageRecord captures a RecordUsage call for test assertions.
type UsageRecord struct {
	UserID    string
	Endpoint  string
	CostUnits int
}

// NewMemory creates an empty in-memory subscription source.
func NewMemory() *InMemorySource {
	return &InMemorySource{
		subscriptions: make(map[string]models.Subscription),
		usage:         make(map[string]int),
	}
}

// SetSubscription seeds a user's subscription.
func (s *InMemorySource) SetSubscription(userID string, tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[userID] = models.Subscription{Tier: tier, Status: "active"}
}

// SetUsage seeds a user's monthly usage count.
func (s *InMemorySource) SetUsage(userID string, usage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID] = usage
}

// FailWith makes every operation return err. Pass nil to recover.
func (s *InMemorySource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Recorded returns the usage events recorded so far.
func (s *InMemorySource) Recorded() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.usageRecords))
	copy(out, s.usageRecords)
	return out
}

func (s *InMemorySource) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no subscription for user")
	}
	return &sub, nil
}

func (s *InMemorySource) GetMonthlyUsage(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return s.usage[userID], nil
}

func (s *InMemorySource) RecordUsage(_ context.Context, userID, endpoint string, costUnits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.usage[userID] += costUnits
	s.usageRecords = append(s.usageRecords, UsageRecord{UserID: userID, Endpoint: endpoint, CostUnits: costUnits})
	return nil
}
