// Package identity derives a stable ClientKey for the caller from request
// data that is already available. No I/O beyond reading (and restoring) the
// request body; resolution is deterministic for a given request.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"aura/internal/ratelimit/models"
	metadata "aura/pkg/platform/middleware/metadata"
)

// pathMarkers are path segments whose successor may be an opaque user id.
var pathMarkers = map[string]struct{}{
	"user":         {},
	"subscription": {},
	"usage":        {},
	"wearables":    {},
}

// opaqueIDMinLen is the heuristic threshold for treating a path segment as
// an opaque user identifier.
const opaqueIDMinLen = 10

// Resolve returns the ClientKey for a request. First match wins:
// body user_id, form user_id, path parameter, path-segment heuristic, then
// the client IP. Always returns a key; worst case "ip:unknown".
func Resolve(r *http.Request) models.ClientKey {
	if userID := fromBody(r); userID != "" {
		return models.UserKey(userID)
	}
	if userID := chi.URLParam(r, "user_id"); userID != "" {
		return models.UserKey(userID)
	}
	if userID := fromPathSegments(r.URL.Path); userID != "" {
		return models.UserKey(userID)
	}
	return models.IPKey(metadata.ClientIPFromRequest(r))
}

// fromBody peeks at the request body for a user_id field, restoring the body
// so the handler (and repeated Resolve calls) see it intact. JSON objects and
// urlencoded forms are understood; anything else is skipped.
func fromBody(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	isJSON := strings.Contains(ct, "application/json")
	isForm := strings.Contains(ct, "application/x-www-form-urlencoded")
	if !isJSON && !isForm {
		return ""
	}

	body, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return ""
	}

	if isJSON {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		return stringValue(payload["user_id"])
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values.Get("user_id"))
}

// fromPathSegments scans for a marker segment followed by something long
// enough to be an opaque id.
func fromPathSegments(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		if _, ok := pathMarkers[segment]; !ok {
			continue
		}
		if i+1 < len(segments) && len(segments[i+1]) > opaqueIDMinLen {
			return segments[i+1]
		}
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		// JSON numbers arrive as float64; ids are integral in practice.
		return fmt.Sprintf("%.0f", val)
	default:
		return ""
	}
}
