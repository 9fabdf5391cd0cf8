// Package authmethod defines the pluggable login contract: given
// method-specific credentials, a Method exchanges them for a set of
// policies and a token TTL, from which the core mints a token.
package authmethod

import (
	"context"
	"time"
)

// LoginResult is what a successful login yields. The core uses this to
// mint a token via the token store; the Method itself never touches the
// token store directly.
type LoginResult struct {
	Policies    []string
	TTL         time.Duration
	MaxTTL      time.Duration
	Renewable   bool
	DisplayName string
}

// Method is the contract an auth method implements. Credentials is
// method-specific (role-id/secret-id for AppRole, a bearer JWT for
// jwttoken) and opaque to the core.
type Method interface {
	// Type returns the method's registered type name (e.g. "approle").
	Type() string

	// Login exchanges credentials for a LoginResult, or an error from the
	// vaulterrors taxonomy (typically Unauthorized).
	Login(ctx context.Context, credentials map[string]string) (LoginResult, error)
}
