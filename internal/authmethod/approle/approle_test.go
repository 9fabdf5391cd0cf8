package approle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultcore/vault/internal/barrier"
	"github.com/vaultcore/vault/internal/crypto"
	"github.com/vaultcore/vault/internal/storage"
	"github.com/vaultcore/vault/internal/vaulterrors"
)

func newMethod(t *testing.T) *Method {
	t.Helper()
	b := barrier.New(storage.NewMemory())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b.Install(key)
	return New(b)
}

func TestCreateRoleGeneratesRoleID(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)

	role, err := m.CreateRole(ctx, Role{Name: "app1", Policies: []string{"default"}})
	require.NoError(t, err)
	require.NotEmpty(t, role.RoleID)
}

func TestCreateRoleRejectsMissingPolicies(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)
	_, err := m.CreateRole(ctx, Role{Name: "app1"})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindBadRequest))
}

func TestLoginWithSecretIDRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)

	role, err := m.CreateRole(ctx, Role{
		Name: "app1", Policies: []string{"default"}, BindSecretID: true,
		TokenTTL: time.Minute, TokenMaxTTL: time.Hour,
	})
	require.NoError(t, err)

	secretID, err := m.GenerateSecretID(ctx, "app1")
	require.NoError(t, err)

	result, err := m.Login(ctx, map[string]string{"role_id": role.RoleID, "secret_id": secretID})
	require.NoError(t, err)
	require.Equal(t, []string{"default"}, result.Policies)
	require.Equal(t, time.Minute, result.TTL)
}

func TestLoginWithWrongSecretIDFails(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)

	role, err := m.CreateRole(ctx, Role{Name: "app1", Policies: []string{"default"}, BindSecretID: true})
	require.NoError(t, err)
	_, err = m.GenerateSecretID(ctx, "app1")
	require.NoError(t, err)

	_, err = m.Login(ctx, map[string]string{"role_id": role.RoleID, "secret_id": "wrong"})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestLoginWithUnknownRoleIDFails(t *testing.T) {
	m := newMethod(t)
	_, err := m.Login(context.Background(), map[string]string{"role_id": "nonexistent"})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestSecretIDSingleUseIsConsumed(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)

	role, err := m.CreateRole(ctx, Role{
		Name: "app1", Policies: []string{"default"}, BindSecretID: true, SecretIDNumUses: 1,
	})
	require.NoError(t, err)
	secretID, err := m.GenerateSecretID(ctx, "app1")
	require.NoError(t, err)

	_, err = m.Login(ctx, map[string]string{"role_id": role.RoleID, "secret_id": secretID})
	require.NoError(t, err)

	_, err = m.Login(ctx, map[string]string{"role_id": role.RoleID, "secret_id": secretID})
	require.True(t, vaulterrors.Is(err, vaulterrors.KindUnauthorized))
}

func TestLoginWithoutBindSecretIDSkipsSecretCheck(t *testing.T) {
	ctx := context.Background()
	m := newMethod(t)

	role, err := m.CreateRole(ctx, Role{Name: "app1", Policies: []string{"default"}, BindSecretID: false})
	require.NoError(t, err)

	result, err := m.Login(ctx, map[string]string{"role_id": role.RoleID})
	require.NoError(t, err)
	require.Equal(t, []string{"default"}, result.Policies)
}
