package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// SigningKey signs every structured token minted by tests.
const SigningKey = "test-signing-key"

// StructuredToken mints an HS256 token with sub and exp claims.
func StructuredToken(t testing.TB, sub string, exp time.Time) string {
	t.Helper()
	return signClaims(t, jwt.MapClaims{"sub": sub, "exp": exp.Unix()})
}

// StructuredTokenNoExpiry mints an HS256 token carrying only sub.
func StructuredTokenNoExpiry(t testing.TB, sub string) string {
	t.Helper()
	return signClaims(t, jwt.MapClaims{"sub": sub})
}

func signClaims(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	claims["iat"] = time.Now().Unix()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(SigningKey))
	require.NoError(t, err)
	return tok
}
