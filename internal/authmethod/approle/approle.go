// Package approle implements machine-to-machine login via a (role_id,
// secret_id) pair: an operator creates a role with attached policies,
// retrieves its role ID, generates secret IDs, and distributes them to
// applications. Grounded on original_source's vaultrs-core::approle
// module, trimmed to the role-id/secret-id login shape per the teacher's
// illustrate-the-contract scope (role CRUD/listing endpoints are not
// reimplemented here).
package approle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaultcore/vault/internal/authmethod"
	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

const (
	rolePrefix     = "sys/auth/approle/roles/"
	secretIDPrefix = "sys/auth/approle/secret-ids/"
)

// Role is a named AppRole definition.
type Role struct {
	Name            string        `json:"name"`
	RoleID          string        `json:"role_id"`
	Policies        []string      `json:"policies"`
	TokenTTL        time.Duration `json:"token_ttl"`
	TokenMaxTTL     time.Duration `json:"token_max_ttl"`
	BindSecretID    bool          `json:"bind_secret_id"`
	SecretIDNumUses int           `json:"secret_id_num_uses"` // 0 = unlimited
}

type secretIDEntry struct {
	RoleName     string `json:"role_name"`
	NumUsesLeft  int    `json:"num_uses_left"`
	CreatedAtRFC string `json:"created_at"`
}

// Method implements authmethod.Method for AppRole logins.
type Method struct {
	barrier *barrier.Barrier
	now     func() time.Time
}

// New constructs a Method over b.
func New(b *barrier.Barrier) *Method {
	return &Method{barrier: b, now: time.Now}
}

// Type implements authmethod.Method.
func (m *Method) Type() string { return "approle" }

// CreateRole persists a role, generating a role ID if none is set.
func (m *Method) CreateRole(ctx context.Context, role Role) (Role, error) {
	if role.Name == "" {
		return Role{}, vaulterrors.BadRequest("approle: role name is required")
	}
	if len(role.Policies) == 0 {
		return Role{}, vaulterrors.BadRequest("approle: at least one policy is required")
	}
	if role.RoleID == "" {
		role.RoleID = uuid.New().String()
	}
	if err := m.putRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// GenerateSecretID mints a new secret ID for roleName and returns its
// plaintext. Only the SHA-256 hash is persisted.
func (m *Method) GenerateSecretID(ctx context.Context, roleName string) (string, error) {
	role, err := m.getRole(ctx, roleName)
	if err != nil {
		return "", err
	}

	secretID := uuid.New().String()
	hash := hashSecretID(secretID)
	entry := secretIDEntry{
		RoleName:     role.Name,
		NumUsesLeft:  role.SecretIDNumUses,
		CreatedAtRFC: m.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", vaulterrors.Internal("approle: encode secret id", err)
	}
	if err := m.barrier.Put(ctx, secretIDPrefix+role.Name+"/"+hash, raw); err != nil {
		return "", err
	}
	return secretID, nil
}

// Login implements authmethod.Method. credentials must carry "role_id" and,
// unless the role has BindSecretID unset, "secret_id".
func (m *Method) Login(ctx context.Context, credentials map[string]string) (authmethod.LoginResult, error) {
	roleID := credentials["role_id"]
	if roleID == "" {
		return authmethod.LoginResult{}, vaulterrors.BadRequest("approle: role_id is required")
	}

	role, err := m.findRoleByID(ctx, roleID)
	if err != nil {
		return authmethod.LoginResult{}, err
	}

	if role.BindSecretID {
		secretID := credentials["secret_id"]
		hash := hashSecretID(secretID)
		key := secretIDPrefix + role.Name + "/" + hash
		raw, ok, err := m.barrier.Get(ctx, key)
		if err != nil {
			return authmethod.LoginResult{}, err
		}
		if !ok {
			return authmethod.LoginResult{}, vaulterrors.Unauthorized("approle: invalid secret id")
		}

		var entry secretIDEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return authmethod.LoginResult{}, vaulterrors.Internal("approle: decode secret id", err)
		}
		if entry.NumUsesLeft > 0 {
			entry.NumUsesLeft--
			if entry.NumUsesLeft == 0 {
				if err := m.barrier.Delete(ctx, key); err != nil {
					return authmethod.LoginResult{}, err
				}
			} else {
				updated, err := json.Marshal(entry)
				if err != nil {
					return authmethod.LoginResult{}, vaulterrors.Internal("approle: encode secret id", err)
				}
				if err := m.barrier.Put(ctx, key, updated); err != nil {
					return authmethod.LoginResult{}, err
				}
			}
		}
	}

	return authmethod.LoginResult{
		Policies:    role.Policies,
		TTL:         role.TokenTTL,
		MaxTTL:      role.TokenMaxTTL,
		Renewable:   true,
		DisplayName: "approle-" + role.Name,
	}, nil
}

func (m *Method) findRoleByID(ctx context.Context, roleID string) (Role, error) {
	names, err := m.barrier.List(ctx, rolePrefix)
	if err != nil {
		return Role{}, err
	}
	for _, name := range names {
		role, err := m.getRole(ctx, name)
		if err != nil {
			continue
		}
		if role.RoleID == roleID {
			return role, nil
		}
	}
	return Role{}, vaulterrors.Unauthorized("approle: no role matches the supplied role id")
}

func (m *Method) getRole(ctx context.Context, name string) (Role, error) {
	raw, ok, err := m.barrier.Get(ctx, rolePrefix+name)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, vaulterrors.NotFound("approle role", name)
	}
	var role Role
	if err := json.Unmarshal(raw, &role); err != nil {
		return Role{}, vaulterrors.Internal("approle: decode role", err)
	}
	return role, nil
}

func (m *Method) putRole(ctx context.Context, role Role) error {
	raw, err := json.Marshal(role)
	if err != nil {
		return vaulterrors.Internal("approle: encode role", err)
	}
	return m.barrier.Put(ctx, rolePrefix+role.Name, raw)
}

func hashSecretID(secretID string) string {
	sum := sha256.Sum256([]byte(secretID))
	return hex.EncodeToString(sum[:])
}
