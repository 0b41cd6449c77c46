package apierror

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome Outcome
		message string
	}{
		{
			name:    "structured token expired code",
			status:  http.StatusForbidden,
			body:    `{"error":"jwt expired","code":"TOKEN_EXPIRED"}`,
			outcome: OutcomeAuthExpired,
			message: "jwt expired",
		},
		{
			name:    "unauthorized status with structured body",
			status:  http.StatusUnauthorized,
			body:    `{"error":"Authentication required"}`,
			outcome: OutcomeAuthExpired,
			message: "Authentication required",
		},
		{
			name:    "unauthorized status with empty body",
			status:  http.StatusUnauthorized,
			body:    "",
			outcome: OutcomeAuthExpired,
			message: "request failed with status 401 Unauthorized",
		},
		{
			name:    "html page with session expired marker",
			status:  http.StatusBadGateway,
			body:    "<html><body>Your Session Expired, please sign in</body></html>",
			outcome: OutcomeAuthExpired,
		},
		{
			name:    "structured error message",
			status:  http.StatusNotFound,
			body:    `{"error":"Beer not found"}`,
			outcome: OutcomeRequestFailed,
			message: "Beer not found",
		},
		{
			name:    "fastapi detail",
			status:  http.StatusBadRequest,
			body:    `{"detail":"Missing email or password"}`,
			outcome: OutcomeRequestFailed,
			message: "Missing email or password",
		},
		{
			name:    "structured body mentioning expiry is not sniffed",
			status:  http.StatusBadRequest,
			body:    `{"error":"coupon token expired"}`,
			outcome: OutcomeRequestFailed,
			message: "coupon token expired",
		},
		{
			name:    "raw text",
			status:  http.StatusInternalServerError,
			body:    "Internal server error: boom",
			outcome: OutcomeRequestFailed,
			message: "Internal server error: boom",
		},
		{
			name:    "malformed json falls back to text",
			status:  http.StatusBadRequest,
			body:    `{"error":`,
			outcome: OutcomeRequestFailed,
			message: `{"error":`,
		},
		{
			name:    "empty body",
			status:  http.StatusServiceUnavailable,
			body:    "",
			outcome: OutcomeUnclassified,
			message: "request failed with status 503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, []byte(tt.body))
			assert.Equal(t, tt.outcome, got.Outcome)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "auth_expired", OutcomeAuthExpired.String())
	assert.Equal(t, "request_failed", OutcomeRequestFailed.String())
	assert.Equal(t, "unclassified", OutcomeUnclassified.String())
}
