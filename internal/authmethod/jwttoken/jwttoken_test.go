package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/vaulterrors"
)

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestLoginWithPoliciesClaim(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key, PoliciesClaim: "policies", TTL: time.Minute})

	raw := signToken(t, key, jwt.MapClaims{
		"sub":      "svc-account-1",
		"policies": []interface{}{"app-read", "app-write"},
	})

	result, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"app-read", "app-write"}, result.Policies)
	require.Equal(t, "svc-account-1", result.DisplayName)
}

func TestLoginFallsBackToDefaultPolicies(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key, DefaultPolicies: []string{"default"}, TTL: time.Minute})

	raw := signToken(t, key, jwt.MapClaims{"sub": "svc-account-1"})

	result, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.NoError(t, err)
	require.Equal(t, []string{"default"}, result.Policies)
}

func TestLoginRejectsBadSignature(t *testing.T) {
	m := New(Config{SigningKey: []byte("correct-key"), DefaultPolicies: []string{"default"}})
	raw := signToken(t, []byte("wrong-key"), jwt.MapClaims{"sub": "x"})

	_, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key, DefaultPolicies: []string{"default"}})

	raw := signToken(t, key, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestLoginRejectsMissingToken(t *testing.T) {
	m := New(Config{SigningKey: []byte("k")})
	_, err := m.Login(context.Background(), map[string]string{})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))
}

func TestLoginRejectsReplayedToken(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key, DefaultPolicies: []string{"default"}, ReplayWindow: time.Minute})

	raw := signToken(t, key, jwt.MapClaims{"sub": "svc-account-1", "jti": "request-1"})

	_, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.NoError(t, err)

	_, err = m.Login(context.Background(), map[string]string{"jwt": raw})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestLoginWithoutReplayWindowAllowsReuse(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key, DefaultPolicies: []string{"default"}})

	raw := signToken(t, key, jwt.MapClaims{"sub": "svc-account-1", "jti": "request-1"})

	_, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.NoError(t, err)

	_, err = m.Login(context.Background(), map[string]string{"jwt": raw})
	require.NoError(t, err)
}

func TestLoginRejectsWhenNoPoliciesMapped(t *testing.T) {
	key := []byte("test-signing-key")
	m := New(Config{SigningKey: key})
	raw := signToken(t, key, jwt.MapClaims{"sub": "x"})

	_, err := m.Login(context.Background(), map[string]string{"jwt": raw})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}
