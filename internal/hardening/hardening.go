// Package hardening applies process-level defenses appropriate to a
// process holding unwrapped key material: disabling core dumps and pinning
// memory against swap. Grounded on
// original_source/crates/vaultrs-server/src/hardening.rs; both steps are
// no-ops on non-Unix platforms.
package hardening

import (
	"github.com/shirou/gopsutil/v3/process"
)

// DisableCoreDumps sets RLIMIT_CORE to zero so a crash never writes a core
// file containing key material to disk. Call this before any key is
// loaded into memory.
func DisableCoreDumps() error {
	return disableCoreDumps()
}

// LockMemory pins all current and future memory pages with mlockall so the
// OS never swaps unwrapped key material to disk. Requires CAP_IPC_LOCK on
// Linux or running as root; set the disable-memory-lock configuration item
// to skip this in development.
func LockMemory() error {
	return lockMemory()
}

// Status reports the current process's resident memory, for operators
// confirming the mlock step actually took effect.
type Status struct {
	ResidentMemoryBytes uint64
	CoreDumpsDisabled   bool
	MemoryLocked        bool
}

// ReadStatus reports current process memory usage via gopsutil, alongside
// the hardening flags the caller applied at startup.
func ReadStatus(coreDumpsDisabled, memoryLocked bool) (Status, error) {
	proc, err := process.NewProcess(int32(currentPID()))
	if err != nil {
		return Status{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Status{}, err
	}
	return Status{
		ResidentMemoryBytes: memInfo.RSS,
		CoreDumpsDisabled:   coreDumpsDisabled,
		MemoryLocked:        memoryLocked,
	}, nil
}
