package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewlog/internal/session/models"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return tok
}

func rawStructured(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func Test_Decode_Opaque(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		subject string
	}{
		{"plain prefix", "token_42", "42"},
		{"mock prefix", "mock_token_user_3", "user_3"},
		{"supabase prefix", "supabase_token_9f1c", "9f1c"},
		{"subject with dots", "token_a.b.c", "a.b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, models.TokenKindOpaque, claims.Kind)
			assert.Equal(t, tt.subject, claims.Subject)
			assert.False(t, claims.HasExpiry)
			assert.True(t, claims.ExpiresAt.IsZero())
		})
	}
}

func Test_Decode_Structured(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("signed token with sub and exp", func(t *testing.T) {
		claims, err := Decode(signed(t, jwt.MapClaims{"sub": "7", "exp": exp.Unix()}))
		require.NoError(t, err)
		assert.Equal(t, models.TokenKindStructured, claims.Kind)
		assert.Equal(t, "7", claims.Subject)
		assert.True(t, claims.HasExpiry)
		assert.True(t, exp.Equal(claims.ExpiresAt))
	})

	t.Run("no exp claim", func(t *testing.T) {
		claims, err := Decode(signed(t, jwt.MapClaims{"sub": "abc"}))
		require.NoError(t, err)
		assert.Equal(t, "abc", claims.Subject)
		assert.False(t, claims.HasExpiry)
	})

	t.Run("numeric sub", func(t *testing.T) {
		claims, err := Decode(rawStructured(`{"sub":12345}`))
		require.NoError(t, err)
		assert.Equal(t, "12345", claims.Subject)
	})

	t.Run("unknown header alg is irrelevant", func(t *testing.T) {
		claims, err := Decode(rawStructured(`{"sub":"u1","exp":1700000000}`))
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.Subject)
		assert.Equal(t, int64(1700000000), claims.ExpiresAt.Unix())
	})

	t.Run("padded payload segment", func(t *testing.T) {
		payload := base64.URLEncoding.EncodeToString([]byte(`{"sub":"p"}`))
		claims, err := Decode("h." + payload + ".s")
		require.NoError(t, err)
		assert.Equal(t, "p", claims.Subject)
	})
}

func Test_Decode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no recognised shape", "abcdef"},
		{"prefix without subject", "token_"},
		{"too many segments", "a.b.c.d"},
		{"one segment separator", "a.b"},
		{"payload not base64", "h.!!!.s"},
		{"payload not json", "h." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".s"},
		{"missing sub", rawStructured(`{"exp":1700000000}`)},
		{"empty sub", rawStructured(`{"sub":""}`)},
		{"null sub", rawStructured(`{"sub":null}`)},
		{"object sub", rawStructured(`{"sub":{"id":1}}`)},
		{"non numeric exp", rawStructured(`{"sub":"x","exp":"soon"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := Decode(tt.raw)
				require.ErrorIs(t, err, ErrInvalidToken)
			})
		})
	}
}

func Test_IsExpired(t *testing.T) {
	now := time.Now()

	assert.True(t, IsExpired(models.Claims{HasExpiry: true, ExpiresAt: now.Add(-time.Second)}, now))
	assert.True(t, IsExpired(models.Claims{HasExpiry: true, ExpiresAt: now}, now), "expiry at now counts as expired")
	assert.False(t, IsExpired(models.Claims{HasExpiry: true, ExpiresAt: now.Add(time.Minute)}, now))
	assert.False(t, IsExpired(models.Claims{Subject: "42"}, now), "no expiry claim never expires")
}

func Test_KindOf(t *testing.T) {
	kind, ok := KindOf("token_1")
	assert.True(t, ok)
	assert.Equal(t, models.TokenKindOpaque, kind)

	kind, ok = KindOf("a.b.c")
	assert.True(t, ok)
	assert.Equal(t, models.TokenKindStructured, kind)

	_, ok = KindOf("plain")
	assert.False(t, ok)
}
