// Package jwttoken validates an externally-issued JWT and maps its claims
// to vault policies and a token TTL. It never issues JWTs itself — it is a
// bridge for identities an external IdP already vouches for.
package jwttoken

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultcore/vault/infrastructure/security"
	"github.com/vaultcore/vault/internal/authmethod"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

// Config maps validated JWT claims to vault-side grants. PoliciesClaim
// names the claim holding a []string (or []interface{}) of policy names;
// if absent, DefaultPolicies is used instead. ReplayWindow, when non-zero,
// rejects a bearer JWT seen again (by its jti claim, or the raw token if
// jti is absent) within that window — the JWT itself stays valid until it
// expires, so without this a captured bearer token can be replayed
// indefinitely.
type Config struct {
	SigningKey      []byte
	PoliciesClaim   string
	DefaultPolicies []string
	TTL             time.Duration
	ReplayWindow    time.Duration
}

// Method implements authmethod.Method for externally-issued JWTs.
type Method struct {
	cfg    Config
	replay *security.ReplayProtection
}

// New constructs a Method. Replay protection is disabled (every login
// accepted) when cfg.ReplayWindow is zero.
func New(cfg Config) *Method {
	m := &Method{cfg: cfg}
	if cfg.ReplayWindow > 0 {
		m.replay = security.NewReplayProtection(cfg.ReplayWindow, nil)
	}
	return m
}

// Type implements authmethod.Method.
func (m *Method) Type() string { return "jwt" }

// Login implements authmethod.Method. credentials must carry "jwt".
func (m *Method) Login(ctx context.Context, credentials map[string]string) (authmethod.LoginResult, error) {
	raw := credentials["jwt"]
	if raw == "" {
		return authmethod.LoginResult{}, vaulterrors.BadRequest("jwttoken: jwt is required")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, vaulterrors.Unauthorized("jwttoken: unexpected signing method")
		}
		return m.cfg.SigningKey, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return authmethod.LoginResult{}, vaulterrors.Unauthorized("jwttoken: invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authmethod.LoginResult{}, vaulterrors.Unauthorized("jwttoken: unreadable claims")
	}

	if m.replay != nil {
		replayKey := raw
		if jti, ok := claims["jti"].(string); ok && jti != "" {
			replayKey = jti
		}
		if !m.replay.ValidateAndMark(replayKey) {
			return authmethod.LoginResult{}, vaulterrors.Unauthorized("jwttoken: token already used")
		}
	}

	policies := m.cfg.DefaultPolicies
	if m.cfg.PoliciesClaim != "" {
		if raw, ok := claims[m.cfg.PoliciesClaim]; ok {
			if extracted, ok := extractPolicies(raw); ok {
				policies = extracted
			}
		}
	}
	if len(policies) == 0 {
		return authmethod.LoginResult{}, vaulterrors.Unauthorized("jwttoken: no policies mapped for this token")
	}

	displayName, _ := claims["sub"].(string)

	return authmethod.LoginResult{
		Policies:    policies,
		TTL:         m.cfg.TTL,
		Renewable:   true,
		DisplayName: displayName,
	}, nil
}

func extractPolicies(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	case []string:
		return v, len(v) > 0
	default:
		return nil, false
	}
}
