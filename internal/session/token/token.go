// Package token decodes access tokens on the client side. Nothing here
// verifies signatures: the backend remains the authority, the client only
// needs the subject and, when present, the expiry.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"brewlog/internal/session/models"
)

// ErrInvalidToken is returned for any token that does not yield a subject.
var ErrInvalidToken = errors.New("invalid token")

// opaquePrefixes are the literal prefixes historically minted by the backends,
// longest first so that "mock_token_" is not read as "token_".
var opaquePrefixes = []string{
	"supabase_token_",
	"mock_token_",
	"token_",
}

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// KindOf picks the decoder for raw by shape alone. It returns false when no
// variant applies.
func KindOf(raw string) (models.TokenKind, bool) {
	if opaquePrefix(raw) != "" {
		return models.TokenKindOpaque, true
	}
	if strings.Count(raw, ".") == 2 {
		return models.TokenKindStructured, true
	}
	return "", false
}

// Decode extracts the subject and expiry from raw. It never panics; every
// failure wraps ErrInvalidToken.
func Decode(raw string) (models.Claims, error) {
	kind, ok := KindOf(raw)
	if !ok {
		return models.Claims{}, fmt.Errorf("unrecognised token shape: %w", ErrInvalidToken)
	}
	switch kind {
	case models.TokenKindOpaque:
		return decodeOpaque(raw)
	default:
		return decodeStructured(raw)
	}
}

// IsExpired reports whether claims carry an expiry at or before now. Tokens
// without an expiry claim never expire.
func IsExpired(claims models.Claims, now time.Time) bool {
	if !claims.HasExpiry {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

func opaquePrefix(raw string) string {
	for _, p := range opaquePrefixes {
		if strings.HasPrefix(raw, p) {
			return p
		}
	}
	return ""
}

func decodeOpaque(raw string) (models.Claims, error) {
	subject := strings.TrimPrefix(raw, opaquePrefix(raw))
	if strings.TrimSpace(subject) == "" {
		return models.Claims{}, fmt.Errorf("opaque token has no subject: %w", ErrInvalidToken)
	}
	return models.Claims{Kind: models.TokenKindOpaque, Subject: subject}, nil
}

// payload accepts a numeric or string subject; older issuers emitted both.
type payload struct {
	Subject   json.RawMessage  `json:"sub"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

func decodeStructured(raw string) (models.Claims, error) {
	parts := strings.Split(raw, ".")
	seg, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return models.Claims{}, fmt.Errorf("decode payload segment: %w", errors.Join(ErrInvalidToken, err))
	}

	var p payload
	if err := json.Unmarshal(seg, &p); err != nil {
		return models.Claims{}, fmt.Errorf("parse payload: %w", errors.Join(ErrInvalidToken, err))
	}

	subject, err := subjectString(p.Subject)
	if err != nil {
		return models.Claims{}, err
	}

	claims := models.Claims{Kind: models.TokenKindStructured, Subject: subject}
	if p.ExpiresAt != nil {
		claims.ExpiresAt = p.ExpiresAt.Time
		claims.HasExpiry = true
	}
	return claims, nil
}

func subjectString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing sub claim: %w", ErrInvalidToken)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("empty sub claim: %w", ErrInvalidToken)
		}
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("sub claim is neither string nor number: %w", ErrInvalidToken)
	}
	return n.String(), nil
}
