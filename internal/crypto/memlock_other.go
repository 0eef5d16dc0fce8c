//go:build !unix

package crypto

func LockMemory(b []byte) error { return nil }

func UnlockMemory(b []byte) error { return nil }

func DisableCoreDumps() error { return nil }
