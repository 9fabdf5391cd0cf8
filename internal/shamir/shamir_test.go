package shamir

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, SecretSize)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestSplitCombineRoundtrip(t *testing.T) {
	secret := randomSecret(t)

	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	for _, s := range shares {
		require.Len(t, s, ShareSize)
	}

	reconstructed, err := Combine(shares[:3])
	require.NoError(t, err)
	require.Equal(t, secret, reconstructed)
}

func TestCombineWithAnyThresholdSubset(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 2, 4)
	require.NoError(t, err)

	subsets := [][][]byte{
		{shares[0], shares[1]},
		{shares[1], shares[3]},
		{shares[0], shares[2], shares[3]},
	}
	for _, subset := range subsets {
		reconstructed, err := Combine(subset)
		require.NoError(t, err)
		require.Equal(t, secret, reconstructed)
	}
}

func TestCombineTooFewSharesProducesWrongSecret(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	reconstructed, err := Combine(shares[:2])
	require.NoError(t, err)
	require.NotEqual(t, secret, reconstructed)
}

func TestCombineRejectsDuplicateIndices(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 2, 3)
	require.NoError(t, err)

	_, err = Combine([][]byte{shares[0], shares[0]})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestCombineRejectsWrongLengthShare(t *testing.T) {
	_, err := Combine([][]byte{make([]byte, 10)})
	require.Error(t, err)
}

func TestSplitRejectsInvalidConfig(t *testing.T) {
	secret := randomSecret(t)

	_, err := Split(secret, 0, 5)
	require.Error(t, err)

	_, err = Split(secret, 6, 5)
	require.Error(t, err)

	_, err = Split(secret, 1, 256)
	require.Error(t, err)
}

func TestSplitRejectsWrongSecretLength(t *testing.T) {
	_, err := Split(make([]byte, 16), 2, 3)
	require.Error(t, err)
}

func TestSharesAreDistinct(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, s := range shares {
		require.False(t, seen[string(s)], "duplicate share produced")
		seen[string(s)] = true
	}
}

func TestSplitOfSameSecretProducesDifferentShares(t *testing.T) {
	secret := randomSecret(t)
	shares1, err := Split(secret, 3, 5)
	require.NoError(t, err)
	shares2, err := Split(secret, 3, 5)
	require.NoError(t, err)

	require.NotEqual(t, shares1, shares2)
}

func TestThresholdOneDegenerateCase(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 1, 3)
	require.NoError(t, err)

	for _, s := range shares {
		reconstructed, err := Combine([][]byte{s})
		require.NoError(t, err)
		require.Equal(t, secret, reconstructed)
	}
}
