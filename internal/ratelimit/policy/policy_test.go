package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura/internal/ratelimit/models"
)

func TestLookup(t *testing.T) {
	table := Default()

	t.Run("explicit entry wins over default", func(t *testing.T) {
		entry, err := table.Lookup(models.TierFree, "ask")
		require.NoError(t, err)
		assert.Equal(t, 50, entry.MonthlyQuota)
		assert.Equal(t, 5, entry.RequestsPerMinute)
	})

	t.Run("unknown endpoint falls back to default", func(t *testing.T) {
		entry, err := table.Lookup(models.TierPro, "wearables")
		require.NoError(t, err)
		assert.Equal(t, models.UnlimitedQuota, entry.MonthlyQuota)
		assert.Equal(t, 60, entry.RequestsPerMinute)
	})

	t.Run("unknown tier is an invariant violation", func(t *testing.T) {
		_, err := table.Lookup(models.Tier("platinum"), "ask")
		require.Error(t, err)
	})

	t.Run("missing endpoint and missing default is an error", func(t *testing.T) {
		broken := New(
			map[models.Tier]map[string]models.PolicyEntry{
				models.TierFree: {"ask": {MonthlyQuota: 1, RequestsPerMinute: 1}},
			},
			map[string]models.PolicyEntry{
				DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 20},
			},
		)
		_, err := broken.Lookup(models.TierFree, "translate")
		require.Error(t, err)
	})
}

func TestLookupAnonymous(t *testing.T) {
	table := Default()

	t.Run("explicit entry", func(t *testing.T) {
		entry, err := table.LookupAnonymous("ask")
		require.NoError(t, err)
		assert.Equal(t, 5, entry.RequestsPerMinute)
	})

	t.Run("fallback to default", func(t *testing.T) {
		entry, err := table.LookupAnonymous("general")
		require.NoError(t, err)
		assert.Equal(t, 20, entry.RequestsPerMinute)
		assert.True(t, entry.Unlimited(), "anonymous entries carry no monthly concept")
	})
}

func TestValidate(t *testing.T) {
	anonymous := map[string]models.PolicyEntry{
		DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 20},
	}

	tests := []struct {
		name    string
		table   *Table
		wantErr string
	}{
		{
			name:  "default table is valid",
			table: Default(),
		},
		{
			name:    "empty table",
			table:   New(map[models.Tier]map[string]models.PolicyEntry{}, anonymous),
			wantErr: "no tiers",
		},
		{
			name: "tier without default entry",
			table: New(map[models.Tier]map[string]models.PolicyEntry{
				models.TierFree: {"ask": {MonthlyQuota: 1, RequestsPerMinute: 1}},
			}, anonymous),
			wantErr: "no default policy entry",
		},
		{
			name: "zero requests per minute",
			table: New(map[models.Tier]map[string]models.PolicyEntry{
				models.TierFree: {
					DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 0},
				},
			}, anonymous),
			wantErr: "requests_per_minute must be positive",
		},
		{
			name: "monthly quota below sentinel",
			table: New(map[models.Tier]map[string]models.PolicyEntry{
				models.TierFree: {
					DefaultEndpoint: {MonthlyQuota: -2, RequestsPerMinute: 10},
				},
			}, anonymous),
			wantErr: "monthly_quota must be >= -1",
		},
		{
			name: "anonymous table without default",
			table: New(map[models.Tier]map[string]models.PolicyEntry{
				models.TierFree: {
					DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 10},
				},
			}, map[string]models.PolicyEntry{}),
			wantErr: "anonymous table has no default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSnapshot(t *testing.T) {
	table := Default()
	report := table.Snapshot()

	require.Contains(t, report.Tiers, models.TierFree)
	require.Contains(t, report.Anonymous, DefaultEndpoint)

	// Mutating the snapshot must not touch the live table.
	report.Tiers[models.TierFree]["ask"] = models.PolicyEntry{MonthlyQuota: 999, RequestsPerMinute: 999}
	entry, err := table.Lookup(models.TierFree, "ask")
	require.NoError(t, err)
	assert.Equal(t, 50, entry.MonthlyQuota)
}
