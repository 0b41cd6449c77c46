// Package apierror classifies failed backend responses into the closed set of
// outcomes the retry protocol branches on.
package apierror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Outcome is the classification of a non-2xx response.
type Outcome int

const (
	// OutcomeUnclassified is a failure with nothing recognisable in it.
	// Callers treat it exactly like OutcomeRequestFailed.
	OutcomeUnclassified Outcome = iota
	// OutcomeAuthExpired triggers the refresh-and-retry protocol.
	OutcomeAuthExpired
	// OutcomeRequestFailed carries a message for the caller.
	OutcomeRequestFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeRequestFailed:
		return "request_failed"
	default:
		return "unclassified"
	}
}

// CodeTokenExpired is the structured error code the backend sends for a stale token.
const CodeTokenExpired = "TOKEN_EXPIRED"

// expiryMarkers are matched case-insensitively against non-JSON bodies, e.g.
// HTML error pages from a proxy in front of the API.
var expiryMarkers = []string{
	"session expired",
	"token expired",
	"token has expired",
}

// Body is the structured error shape. Detail covers FastAPI's default
// HTTPException body.
type Body struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

// Result is a classification together with the message to surface.
type Result struct {
	Outcome Outcome
	Message string
}

// Classify inspects a failed response. It never returns an error: anything it
// cannot read falls through to the raw text.
func Classify(status int, body []byte) Result {
	text := strings.TrimSpace(string(body))

	if parsed, ok := parseBody(body); ok {
		msg := parsed.message()
		if msg == "" {
			msg = fallbackMessage(status, text)
		}
		if strings.EqualFold(parsed.Code, CodeTokenExpired) || status == http.StatusUnauthorized {
			return Result{Outcome: OutcomeAuthExpired, Message: msg}
		}
		return Result{Outcome: OutcomeRequestFailed, Message: msg}
	}

	if status == http.StatusUnauthorized || containsExpiryMarker(text) {
		return Result{Outcome: OutcomeAuthExpired, Message: fallbackMessage(status, text)}
	}
	if text == "" {
		return Result{Outcome: OutcomeUnclassified, Message: fallbackMessage(status, "")}
	}
	return Result{Outcome: OutcomeRequestFailed, Message: text}
}

func parseBody(body []byte) (Body, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Body{}, false
	}
	var b Body
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return Body{}, false
	}
	return b, true
}

func (b Body) message() string {
	if b.Error != "" {
		return b.Error
	}
	switch d := b.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func containsExpiryMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range expiryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func fallbackMessage(status int, text string) string {
	if text != "" {
		return text
	}
	if status == 0 {
		return "request failed"
	}
	return fmt.Sprintf("request failed with status %d %s", status, http.StatusText(status))
}

// HTTPError is the underlying cause of a RequestFailed domain error.
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}
