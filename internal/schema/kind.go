// Package schema defines the decrypted vault payload and upgrades payloads
// written by earlier releases to the current normalized shape.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownKind is returned for a kind discriminator this build does not know.
	ErrUnknownKind = errors.New("unknown vault kind")

	// ErrUnrecognizedShape is returned when a body is neither a known legacy
	// shape nor the normalized shape for its kind.
	ErrUnrecognizedShape = errors.New("unrecognized payload shape")
)

// Kind selects which normalized body shape a vault holds. It is fixed when
// the vault is created.
type Kind string

const (
	KindSales     Kind = "sales"
	KindWorkforce Kind = "workforce"
)

// DefaultKind is assumed for payloads and registry entries written before the
// kind field existed; the first release only had sales vaults.
const DefaultKind = KindSales

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSales || k == KindWorkforce
}

// ParseKind maps user input to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
