package models

import "time"

// Tier is the subscription level determining quota policy.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierStar Tier = "star"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierStar:
		return true
	}
	return false
}

// String returns the string representation.
func (t Tier) String() string {
	return string(t)
}

// ParseTier creates a Tier from a string. Unknown values fall back to free,
// the conservative default for unrecognized subscription rows.
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.IsValid() {
		return TierFree
	}
	return t
}

// UnlimitedQuota is the sentinel for "no monthly cap". Absence of a quota
// field is a configuration error, never unlimited.
const UnlimitedQuota = -1

// PolicyEntry is the immutable limit set for a (tier, endpoint) pair.
type PolicyEntry struct {
	// MonthlyQuota caps calendar-month usage; UnlimitedQuota disables the cap.
	MonthlyQuota int `json:"monthly_quota"`
	// RequestsPerMinute caps requests inside the short window.
	RequestsPerMinute int `json:"requests_per_minute"`
	// RequestsPerHour is carried for policy reporting; 0 means unset.
	RequestsPerHour int `json:"requests_per_hour,omitempty"`
}

// Unlimited reports whether the entry has no monthly cap.
func (e PolicyEntry) Unlimited() bool {
	return e.MonthlyQuota == UnlimitedQuota
}

// Reason classifies the outcome of a quota check.
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonRateLimitExceeded    Reason = "rate_limit_exceeded"
	ReasonMonthlyLimitExceeded Reason = "monthly_limit_exceeded"
)

// Subscription is the subscription source's view of a user.
type Subscription struct {
	Tier   Tier   `json:"tier"`
	Status string `json:"status"`
}

// Decision is the ephemeral result of a quota check. Constructed fresh per
// request and handed to the request gate for header population; never
// persisted.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Reason            Reason    `json:"reason"`
	Limit             int       `json:"limit"`
	RequestsMade      int       `json:"requests_made"`
	RequestsRemaining int       `json:"requests_remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfter        int       `json:"retry_after,omitempty"` // seconds, only set on rate_limit_exceeded

	// Subscription context, zero-valued for anonymous clients.
	Tier         Tier `json:"tier,omitempty"`
	MonthlyUsage int  `json:"monthly_usage"`
	MonthlyLimit int  `json:"monthly_limit"`

	// Degraded marks a fail-open decision taken while the counter store was
	// unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// MonthlyRemaining returns the remaining monthly quota, UnlimitedQuota when
// the entry has no cap.
func (d *Decision) MonthlyRemaining() int {
	if d.MonthlyLimit == UnlimitedQuota {
		return UnlimitedQuota
	}
	remaining := d.MonthlyLimit - d.MonthlyUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}
