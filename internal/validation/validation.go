// Package validation provides input validation functions.
package validation

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrVaultNameEmpty is returned when nothing is left of a name after sanitizing.
	ErrVaultNameEmpty = errors.New("vault name is required")
	// ErrVaultNameTooLong is returned when vault name exceeds 100 characters.
	ErrVaultNameTooLong = errors.New("vault name must be at most 100 characters")
	// ErrVaultNameInvalidChars is returned when a name needs sanitizing first.
	ErrVaultNameInvalidChars = errors.New("vault name can only contain letters, numbers, spaces, hyphens, and underscores")

	// ErrPasswordEmpty is returned when password is empty.
	ErrPasswordEmpty = errors.New("password is required")
)

// MaxVaultNameLength is the longest accepted vault name, in characters.
const MaxVaultNameLength = 100

func allowedRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' '
}

// SanitizeVaultName reduces user input to the vault name character set:
// letters, digits, hyphen, underscore and space. A trailing ".enc" is dropped,
// other characters are removed, and runs of spaces collapse to one.
func SanitizeVaultName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".enc")

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			r = ' '
		}
		if allowedRune(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// VaultName validates an already sanitized vault name.
// Rules: 1-100 characters, sanitized character set only.
func VaultName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrVaultNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxVaultNameLength {
		return ErrVaultNameTooLong
	}
	if SanitizeVaultName(name) != name {
		return ErrVaultNameInvalidChars
	}
	return nil
}

// Password validates a vault password.
// The only rule is that it is not empty; strength is the caller's policy.
func Password(password []byte) error {
	if len(password) == 0 {
		return ErrPasswordEmpty
	}
	return nil
}
