package models

import (
	"fmt"
	"strings"
)

// ClientKey is a tagged identifier for the caller: "user:<id>" for
// authenticated requests, "ip:<address>" otherwise. Computed fresh per
// request, never persisted.
type ClientKey string

const (
	userKeyPrefix = "user:"
	ipKeyPrefix   = "ip:"
)

// UserKey builds a ClientKey for an authenticated user.
func UserKey(userID string) ClientKey {
	return ClientKey(userKeyPrefix + SanitizeKeySegment(userID))
}

// IPKey builds a ClientKey for an anonymous caller.
func IPKey(addr string) ClientKey {
	if addr == "" {
		addr = "unknown"
	}
	return ClientKey(ipKeyPrefix + SanitizeKeySegment(addr))
}

// IsUser reports whether the key identifies an authenticated user.
func (k ClientKey) IsUser() bool {
	return strings.HasPrefix(string(k), userKeyPrefix)
}

// UserID returns the user identifier for user keys, empty otherwise.
func (k ClientKey) UserID() string {
	if !k.IsUser() {
		return ""
	}
	return strings.TrimPrefix(string(k), userKeyPrefix)
}

// String returns the raw tagged key.
func (k ClientKey) String() string {
	return string(k)
}

// SanitizeKeySegment escapes the delimiter in user-controlled identifiers so
// they cannot collide with adjacent counter store key segments.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Counter store key layout. All ratelimit state shares the "rl:" namespace
// so operators can reason about (and reset) it with prefix scans.
const (
	windowKeyPrefix = "rl:win:"
	tierKeyPrefix   = "rl:tier:"
	usageKeyPrefix  = "rl:musage:"
)

// WindowKey builds the counting-bucket key for (client, endpoint, window).
// A new window index produces a new key, so counters reset implicitly on
// rollover; there is no manual reset.
func WindowKey(key ClientKey, endpoint string, windowIndex int64) string {
	return fmt.Sprintf("%s%s:%s:%d", windowKeyPrefix, key, SanitizeKeySegment(endpoint), windowIndex)
}

// ClientWindowPrefix is the scan prefix covering every window counter for a
// client, used by the admin reset operation.
func ClientWindowPrefix(key ClientKey) string {
	return windowKeyPrefix + string(key) + ":"
}

// TierCacheKey is the read-through cache slot for a user's subscription tier.
func TierCacheKey(userID string) string {
	return tierKeyPrefix + SanitizeKeySegment(userID)
}

// UsageCacheKey is the read-through cache slot for a user's monthly usage.
func UsageCacheKey(userID string) string {
	return usageKeyPrefix + SanitizeKeySegment(userID)
}
