// Package policy holds the static {tier × endpoint} limit tables.
// Pure data: loaded once at startup, validated, never mutated at runtime.
package policy

import (
	"fmt"

	"aura/internal/ratelimit/models"
	dErrors "aura/pkg/domain-errors"
)

// DefaultEndpoint is the per-tier fallback entry. Every tier must define it;
// a missing fallback is a configuration error caught by Validate at startup.
const DefaultEndpoint = "default"

// Table maps tiers and endpoints to policy entries, with a separate, more
// conservative table for anonymous (IP-keyed) clients. The anonymous table
// has no monthly concept; its entries always carry UnlimitedQuota.
type Table struct {
	tiers     map[models.Tier]map[string]models.PolicyEntry
	anonymous map[string]models.PolicyEntry
}

// New builds a Table from explicit maps. Callers normally use Default.
func New(tiers map[models.Tier]map[string]models.PolicyEntry, anonymous map[string]models.PolicyEntry) *Table {
	return &Table{tiers: tiers, anonymous: anonymous}
}

// Default returns the production policy table.
func Default() *Table {
	return &Table{
		tiers: map[models.Tier]map[string]models.PolicyEntry{
			models.TierFree: {
				"ask":           {MonthlyQuota: 50, RequestsPerMinute: 5, RequestsPerHour: 60},
				"ask_media":     {MonthlyQuota: 20, RequestsPerMinute: 3, RequestsPerHour: 30},
				"translate":     {MonthlyQuota: 100, RequestsPerMinute: 10},
				"transcribe":    {MonthlyQuota: 30, RequestsPerMinute: 3},
				DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 30},
			},
			models.TierPro: {
				"ask":           {MonthlyQuota: 1000, RequestsPerMinute: 20, RequestsPerHour: 400},
				"ask_media":     {MonthlyQuota: 300, RequestsPerMinute: 10},
				"translate":     {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 30},
				"transcribe":    {MonthlyQuota: 500, RequestsPerMinute: 10},
				DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 60},
			},
			models.TierStar: {
				"ask":           {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 60},
				"ask_media":     {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 30},
				"translate":     {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 60},
				"transcribe":    {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 30},
				DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 120},
			},
		},
		// Legacy fixed limits for anonymous traffic.
		anonymous: map[string]models.PolicyEntry{
			"ask":           {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 5},
			"wearables":     {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 10},
			DefaultEndpoint: {MonthlyQuota: models.UnlimitedQuota, RequestsPerMinute: 20},
		},
	}
}

// Lookup returns the entry for (tier, endpoint), falling back to the tier's
// default entry. Reaching the error path at request time means Validate was
// skipped at startup.
func (t *Table) Lookup(tier models.Tier, endpoint string) (models.PolicyEntry, error) {
	entries, ok := t.tiers[tier]
	if !ok {
		return models.PolicyEntry{}, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("no policy entries for tier %q", tier))
	}
	if entry, ok := entries[endpoint]; ok {
		return entry, nil
	}
	if entry, ok := entries[DefaultEndpoint]; ok {
		return entry, nil
	}
	return models.PolicyEntry{}, dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("no policy entry for (%s, %s) and no default", tier, endpoint))
}

// LookupAnonymous returns the anonymous entry for an endpoint, falling back
// to the anonymous default.
func (t *Table) LookupAnonymous(endpoint string) (models.PolicyEntry, error) {
	if entry, ok := t.anonymous[endpoint]; ok {
		return entry, nil
	}
	if entry, ok := t.anonymous[DefaultEndpoint]; ok {
		return entry, nil
	}
	return models.PolicyEntry{}, dErrors.New(dErrors.CodeInvariantViolation,
		"no anonymous policy entry and no default")
}

// Validate fails fast on malformed tables: every tier needs a default entry,
// rates must be positive, and monthly quotas must be a count or the
// unlimited sentinel. Called at startup, not per request.
func (t *Table) Validate() error {
	if len(t.tiers) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "policy table has no tiers")
	}
	for tier, entries := range t.tiers {
		if !tier.IsValid() {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("unknown tier %q in policy table", tier))
		}
		if _, ok := entries[DefaultEndpoint]; !ok {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("tier %q has no default policy entry", tier))
		}
		for endpoint, entry := range entries {
			if err := validateEntry(string(tier), endpoint, entry); err != nil {
				return err
			}
		}
	}
	if _, ok := t.anonymous[DefaultEndpoint]; !ok {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"anonymous table has no default policy entry")
	}
	for endpoint, entry := range t.anonymous {
		if err := validateEntry("anonymous", endpoint, entry); err != nil {
			return err
		}
	}
	return nil
}

func validateEntry(tier, endpoint string, entry models.PolicyEntry) error {
	if entry.RequestsPerMinute <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("(%s, %s): requests_per_minute must be positive", tier, endpoint))
	}
	if entry.MonthlyQuota < models.UnlimitedQuota {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("(%s, %s): monthly_quota must be >= -1", tier, endpoint))
	}
	if entry.RequestsPerHour < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("(%s, %s): requests_per_hour cannot be negative", tier, endpoint))
	}
	return nil
}

// Snapshot returns a deep copy of the tables for the admin policy report.
func (t *Table) Snapshot() *models.PolicyReport {
	report := &models.PolicyReport{
		Tiers:     make(map[models.Tier]map[string]models.PolicyEntry, len(t.tiers)),
		Anonymous: make(map[string]models.PolicyEntry, len(t.anonymous)),
	}
	for tier, entries := range t.tiers {
		copied := make(map[string]models.PolicyEntry, len(entries))
		for endpoint, entry := range entries {
			copied[endpoint] = entry
		}
		report.Tiers[tier] = copied
	}
	for endpoint, entry := range t.anonymous {
		report.Anonymous[endpoint] = entry
	}
	return report
}
