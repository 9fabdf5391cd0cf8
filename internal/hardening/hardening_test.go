package hardening

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisableCoreDumpsDoesNotError(t *testing.T) {
	require.NoError(t, DisableCoreDumps())
}

func TestReadStatusReportsResidentMemory(t *testing.T) {
	status, err := ReadStatus(true, false)
	require.NoError(t, err)
	require.Greater(t, status.ResidentMemoryBytes, uint64(0))
	require.True(t, status.CoreDumpsDisabled)
	require.False(t, status.MemoryLocked)
}
