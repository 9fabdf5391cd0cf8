// Package cloudkms implements HashiCorp Vault's "auto-unseal" pattern: the
// Unseal Key is wrapped by an Azure Key Vault key instead of being split
// into operator-held Shamir shares. An operator with access to the cloud
// key can unseal without ever handling a share.
package cloudkms

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/vaultcore/vault/internal/vaulterrors"
)

// KeyClient is the subset of the Azure Key Vault keys client this package
// needs: wrap (encrypt) and unwrap (decrypt) a small payload under a
// customer-managed key. Defined as an interface so tests can substitute a
// fake without talking to Azure.
type KeyClient interface {
	WrapKey(ctx context.Context, plaintext []byte) (ciphertext []byte, err error)
	UnwrapKey(ctx context.Context, ciphertext []byte) (plaintext []byte, err error)
}

// Provider implements an auto-unseal source of the Unseal Key: instead of
// the Seal Manager collecting operator shares, it asks Provider to unwrap a
// single stored blob.
type Provider struct {
	client KeyClient
}

// NewProvider builds a Provider around client, which may be any KeyClient
// implementation, such as an adapter over an Azure Key Vault keys client
// built with the credential from DefaultCredential.
func NewProvider(client KeyClient) *Provider {
	return &Provider{client: client}
}

// WrapUnsealKey encrypts the Unseal Key under the configured Azure key,
// producing the blob that the Seal Manager persists in place of Shamir
// shares.
func (p *Provider) WrapUnsealKey(ctx context.Context, unsealKey []byte) ([]byte, error) {
	wrapped, err := p.client.WrapKey(ctx, unsealKey)
	if err != nil {
		return nil, vaulterrors.Internal("cloudkms: wrap unseal key", err)
	}
	return wrapped, nil
}

// UnwrapUnsealKey recovers the Unseal Key from the stored wrapped blob,
// letting the Seal Manager proceed directly to decrypting the Root Key
// without ever collecting operator shares.
func (p *Provider) UnwrapUnsealKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	plaintext, err := p.client.UnwrapKey(ctx, wrapped)
	if err != nil {
		return nil, vaulterrors.Internal("cloudkms: unwrap unseal key", err)
	}
	return plaintext, nil
}

// DefaultCredential resolves an Azure credential the same way the rest of
// the ecosystem does: environment variables, managed identity, then the
// Azure CLI, in that order, via azidentity's chained default credential.
func DefaultCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("cloudkms: resolve default azure credential: %w", err)
	}
	return cred, nil
}
