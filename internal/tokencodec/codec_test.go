package tokencodec

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-key-client-never-checks"))
	require.NoError(t, err)
	return token
}

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestCodec_Decode(t *testing.T) {
	exp := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	t.Run("decode ok", func(t *testing.T) {
		token := signed(t, jwt.MapClaims{"exp": exp.Unix(), "userId": 42})

		claims, err := Decode(token)

		require.NoError(t, err)
		require.Equal(t, int64(42), claims.UserID)
		require.True(t, exp.Equal(claims.ExpiresAt), "exp should be decoded as unix seconds")
	})

	t.Run("signature is not checked", func(t *testing.T) {
		header := segment(`{"alg":"HS256","typ":"JWT"}`)
		payload := segment(`{"exp":1792065600,"userId":7}`)

		claims, err := Decode(header + "." + payload + ".not-a-real-signature")

		require.NoError(t, err)
		require.Equal(t, int64(7), claims.UserID)
	})

	t.Run("fail", func(t *testing.T) {
		header := segment(`{"alg":"HS256","typ":"JWT"}`)

		tests := []struct {
			name  string
			token string
		}{
			{"empty", ""},
			{"one segment", "abc"},
			{"two segments", header + "." + segment(`{"exp":1}`)},
			{"payload not base64", header + ".%%%.sig"},
			{"payload not json", header + "." + segment("not-json") + ".sig"},
			{"exp missing", header + "." + segment(`{"userId":1}`) + ".sig"},
			{"userId of wrong type", header + "." + segment(`{"exp":1792065600,"userId":"one"}`) + ".sig"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Decode(tt.token)

				require.Error(t, err)
				require.ErrorIs(t, err, ErrDecode)
			})
		}
	})
}

func TestCodec_IsExpired(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		token    string
		expected bool
	}{
		{"expires in an hour", signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), false},
		{"expires exactly at skew edge", signed(t, jwt.MapClaims{"exp": now.Add(DefaultSkew).Unix()}), false},
		{"expires inside skew window", signed(t, jwt.MapClaims{"exp": now.Add(29 * time.Second).Unix()}), true},
		{"expired already", signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), true},
		{"not decodable", "garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, IsExpired(tt.token, now))
		})
	}

	t.Run("custom skew", func(t *testing.T) {
		token := signed(t, jwt.MapClaims{"exp": now.Add(time.Minute).Unix()})

		require.False(t, IsExpiredWithSkew(token, now, 0))
		require.True(t, IsExpiredWithSkew(token, now, 2*time.Minute))
	})
}
