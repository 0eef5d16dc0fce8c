package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/envelope"
	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
	"github.com/Adam-Moller/secure-opus-vault/internal/store"
	"github.com/Adam-Moller/secure-opus-vault/internal/validation"
)

var (
	// ErrAuthentication is returned when the password is wrong or the
	// ciphertext was modified. The two cases are not distinguished.
	ErrAuthentication = errors.New("authentication failed")

	// ErrFormat is returned when stored bytes are not a vault envelope.
	ErrFormat = errors.New("invalid vault format")

	// ErrNotFound is returned when no vault is stored under a name.
	ErrNotFound = errors.New("vault not found")

	// ErrAccessLost is returned when a previously chosen file location can no
	// longer be written. Saving again asks for a location.
	ErrAccessLost = errors.New("vault location no longer accessible")

	// ErrUnsupported is returned when no storage backend can run.
	ErrUnsupported = errors.New("no usable storage backend")

	// ErrMigration is returned when a decrypted payload has a shape that
	// cannot be upgraded.
	ErrMigration = errors.New("vault payload migration failed")

	// ErrVaultExists is returned when creating a vault under a taken name.
	ErrVaultExists = errors.New("vault already exists")

	// ErrKindMismatch is returned when saving a payload of another kind.
	ErrKindMismatch = errors.New("payload kind does not match vault")

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("vault session is closed")

	// ErrInvalidName is returned for a vault name that fails validation.
	ErrInvalidName = errors.New("invalid vault name")

	// ErrInvalidPassword is returned for an empty password.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrThrottled is returned when a vault has had too many failed unlocks.
	ErrThrottled = errors.New("too many failed unlock attempts")

	// ErrCanceled is returned when the user declines to choose a location.
	ErrCanceled = errors.New("operation canceled")
)

// mapError translates lower-level sentinel errors to vault-level errors.
// Both the vault error and the original remain matchable with errors.Is.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var target error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, crypto.ErrDecryptionFailed):
		target = ErrAuthentication
	case errors.Is(err, envelope.ErrInvalidFormat):
		target = ErrFormat
	case errors.Is(err, schema.ErrUnrecognizedShape), errors.Is(err, schema.ErrUnknownKind):
		target = ErrMigration
	case errors.Is(err, store.ErrNotFound):
		target = ErrNotFound
	case errors.Is(err, store.ErrAccessLost):
		target = ErrAccessLost
	case errors.Is(err, store.ErrUnsupported):
		target = ErrUnsupported
	case errors.Is(err, store.ErrPickCanceled):
		target = ErrCanceled
	case errors.Is(err, validation.ErrVaultNameEmpty),
		errors.Is(err, validation.ErrVaultNameTooLong),
		errors.Is(err, validation.ErrVaultNameInvalidChars):
		target = ErrInvalidName
	case errors.Is(err, validation.ErrPasswordEmpty):
		target = ErrInvalidPassword
	default:
		return err
	}

	if errors.Is(err, target) {
		return err
	}
	return fmt.Errorf("%w: %w", target, err)
}

// UserMessage returns the message to show a user for err. Authentication
// failures never reveal whether the password or the file was at fault.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "wrong password or corrupted file"
	case errors.Is(err, ErrFormat), errors.Is(err, ErrMigration):
		return "this is not a recognized vault file"
	case errors.Is(err, ErrNotFound):
		return "vault not found"
	case errors.Is(err, ErrAccessLost):
		return "the vault file can no longer be reached; choose its location again"
	case errors.Is(err, ErrUnsupported):
		return "no vault storage is available in this environment"
	case errors.Is(err, ErrVaultExists):
		return "a vault with this name already exists"
	case errors.Is(err, ErrInvalidName):
		return "vault names use letters, digits, spaces, hyphens and underscores (1-100 characters)"
	case errors.Is(err, ErrInvalidPassword):
		return "a password is required"
	case errors.Is(err, ErrThrottled):
		return "too many failed attempts; wait a moment and try again"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrSessionClosed):
		return "the vault is locked; open it again"
	default:
		return err.Error()
	}
}
