package audit

import (
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"
)

const (
	MaxUserAgentLen    = 512
	MaxErrorMessageLen = 1024

	unknownResource = "unknown"
)

// Status is the outcome recorded for an audited request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one append-only audit record.
type Entry struct {
	ID           string         `json:"id"`
	StoreID      string         `json:"storeId"`
	UserID       string         `json:"userId"`
	RequestID    string         `json:"requestId"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	Status       Status         `json:"status"`
	DurationMs   int64          `json:"durationMs"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"createdAt"`
}

var (
	apiResourcePattern = regexp.MustCompile(`^/api/(?:v[0-9]+/)?([^/?#]+)`)
	rpcResourcePattern = regexp.MustCompile(`^/[^/]+/([A-Za-z0-9_-]+)\.[A-Za-z0-9_.-]+`)
)

// ShouldAudit reports whether method changes state.
func ShouldAudit(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// ResourceFromPath extracts the resource name from "/api/<resource>/..." or
// from dot-routed procedures such as "/rpc/<resource>.update".
func ResourceFromPath(path string) string {
	if m := apiResourcePattern.FindStringSubmatch(path); len(m) == 2 {
		return m[1]
	}
	if m := rpcResourcePattern.FindStringSubmatch(path); len(m) == 2 {
		return m[1]
	}
	return unknownResource
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
