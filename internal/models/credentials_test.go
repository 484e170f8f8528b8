package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestCredentials_CompleteAndEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		creds    Credentials
		complete bool
		empty    bool
	}{
		{name: "both", creds: Credentials{AccessToken: "A1", RefreshToken: "R1"}, complete: true},
		{name: "none", creds: Credentials{}, empty: true},
		{name: "access_only", creds: Credentials{AccessToken: "A1"}},
		{name: "refresh_only", creds: Credentials{RefreshToken: "R1"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.complete, tt.creds.Complete())
			require.Equal(t, tt.empty, tt.creds.Empty())
		})
	}
}

func TestCredentials_AccessExpiresAt_JWT(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "42",
	})
	signed, err := tok.SignedString([]byte("any-secret"))
	require.NoError(t, err)

	got, ok := Credentials{AccessToken: signed, RefreshToken: "R1"}.AccessExpiresAt()
	require.True(t, ok)
	require.True(t, exp.Equal(got), "want %s, got %s", exp, got)
}

func TestCredentials_AccessExpiresAt_Opaque(t *testing.T) {
	t.Parallel()

	_, ok := Credentials{AccessToken: "A1", RefreshToken: "R1"}.AccessExpiresAt()
	require.False(t, ok)

	_, ok = Credentials{}.AccessExpiresAt()
	require.False(t, ok)
}

func TestCredentials_AccessExpiresAt_NoExpClaim(t *testing.T) {
	t.Parallel()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "42"})
	signed, err := tok.SignedString([]byte("any-secret"))
	require.NoError(t, err)

	_, ok := Credentials{AccessToken: signed}.AccessExpiresAt()
	require.False(t, ok)
}
