// Package store persists sealed vault envelopes.
//
// Two backends implement Backend: FileBackend writes one file per vault at a
// location chosen through a Picker, BoltBackend keeps every vault in a single
// embedded bbolt database. Callers pick one per session with Select.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by backends.
var (
	ErrNotFound = errors.New("not found")

	// ErrVaultNotFound is returned when no bytes are stored under a name.
	ErrVaultNotFound = fmt.Errorf("vault %w", ErrNotFound)

	// ErrAccessLost is returned when a file handle no longer points at the
	// file it was issued for. Callers may retry by picking the location again.
	ErrAccessLost = errors.New("access to vault file lost")

	// ErrUnsupported is returned when a backend cannot run in this environment.
	ErrUnsupported = errors.New("storage backend unsupported")

	// ErrPickCanceled is returned by a Picker when the user declines to choose.
	ErrPickCanceled = errors.New("location selection canceled")

	// ErrForeignHandle is returned when a handle issued by one backend is
	// passed to another.
	ErrForeignHandle = errors.New("handle belongs to a different backend")
)

// BackendKind names a backend implementation. It is recorded in the registry.
type BackendKind string

const (
	BackendNative   BackendKind = "native"
	BackendEmbedded BackendKind = "embedded"
)

// Handle is an opaque reference to a stored vault returned by Write and Read.
// Supplying it to a later Write overwrites the same location without asking
// the Picker again.
type Handle interface {
	Backend() BackendKind
	VaultName() string
}

// Backend defines the operations every storage implementation provides.
type Backend interface {
	// Kind identifies the implementation.
	Kind() BackendKind

	// Supported is a capability probe. It never panics and never returns an
	// error; a false result means the backend must not be used.
	Supported() bool

	// Write persists data under name, atomically replacing earlier contents.
	Write(ctx context.Context, name string, data []byte, h Handle) (Handle, error)

	// Read returns the bytes stored under name, or under h when it is not nil.
	Read(ctx context.Context, name string, h Handle) ([]byte, Handle, error)

	// Remove deletes the bytes stored under name.
	Remove(ctx context.Context, name string) error

	// List returns every vault name the backend knows about.
	List(ctx context.Context) ([]string, error)

	// Enumerable reports whether List covers every vault the backend has
	// written. A picker may place files outside the listed directory.
	Enumerable() bool

	// Lifecycle
	Close() error
}

// Select chooses the backend for a session: native when its probe succeeds
// and the runtime is not sandboxed, embedded otherwise. Either argument may be
// nil when that backend is not configured.
func Select(native, embedded Backend, sandboxed bool) (Backend, error) {
	if native != nil && !sandboxed && native.Supported() {
		return native, nil
	}
	if embedded != nil && embedded.Supported() {
		return embedded, nil
	}
	return nil, ErrUnsupported
}

// keyHandle is the handle issued by backends that address vaults by name only.
type keyHandle struct {
	kind BackendKind
	name string
}

func (h keyHandle) Backend() BackendKind { return h.kind }
func (h keyHandle) VaultName() string    { return h.name }
