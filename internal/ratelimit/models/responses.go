package models

// RateLimitExceededResponse is the API response for a short-window rejection.
type RateLimitExceededResponse struct {
	Error      string `json:"error"` // "rate_limit_exceeded"
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// MonthlyLimitExceededResponse is the API response when the monthly quota is
// exhausted. Payment-required class: actionable upgrade messaging included.
type MonthlyLimitExceededResponse struct {
	Error           string `json:"error"` // "monthly_limit_exceeded"
	Message         string `json:"message"`
	Tier            Tier   `json:"tier"`
	MonthlyUsage    int    `json:"monthly_usage"`
	MonthlyLimit    int    `json:"monthly_limit"`
	UpgradeRequired bool   `json:"upgrade_required"`
	UpgradeURL      string `json:"upgrade_url"`
}

// ResetResponse is the admin API response after clearing a client's counters.
type ResetResponse struct {
	ClientKey   string `json:"client_key"`
	KeysDeleted int    `json:"keys_deleted"`
}

// PolicyReport is the admin API response describing the configured tables.
type PolicyReport struct {
	Tiers     map[Tier]map[string]PolicyEntry `json:"tiers"`
	Anonymous map[string]PolicyEntry          `json:"anonymous"`
}
