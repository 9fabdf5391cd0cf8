//go:build !unix

package hardening

func disableCoreDumps() error { return nil }

func lockMemory() error { return nil }
