package models

import "time"

// Well-known persistence keys for the two token slots.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
)

// TokenPair is the unit persisted by a token store. RefreshToken may be empty.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenKind names the encoding a token was recognised as.
type TokenKind string

const (
	TokenKindOpaque     TokenKind = "opaque"
	TokenKindStructured TokenKind = "structured"
)

// Claims is what the client can learn from an access token without verifying it.
type Claims struct {
	Kind    TokenKind
	Subject string
	// ExpiresAt is meaningful only when HasExpiry is true.
	ExpiresAt time.Time
	HasExpiry bool
}

// Session is the authoritative authentication state owned by the session manager.
// The zero value is the empty session.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
	HasExpiry    bool
	// Validated is false for a session populated from an access token that
	// could not be decoded at login time.
	Validated bool
}

// IsAuthenticated reports whether the session is populated.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// Pair returns the tokens in persistable form.
func (s Session) Pair() TokenPair {
	return TokenPair{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// NewSession builds a populated, validated session from decoded claims.
func NewSession(pair TokenPair, claims Claims) Session {
	return Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		UserID:       claims.Subject,
		ExpiresAt:    claims.ExpiresAt,
		HasExpiry:    claims.HasExpiry,
		Validated:    true,
	}
}
