// Package crypto provides the key derivation and authenticated encryption
// used to seal vault payloads.
//
// Keys are derived from the vault password with Argon2id. Envelopes written by
// the browser-era application used PBKDF2-SHA256 and are still readable.
// Payloads are sealed with AES-256-GCM (default) or XChaCha20-Poly1305.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of derived keys in bytes.
	KeySize = 32

	// TagSize is the size of the AEAD authentication tag in bytes.
	TagSize = 16

	// SaltSize is the size of salts for key derivation in bytes.
	SaltSize = 16

	// Argon2Time is the time parameter for Argon2id.
	Argon2Time = 3

	// Argon2Memory is the memory parameter for Argon2id in KiB.
	Argon2Memory = 64 * 1024

	// Argon2Threads is the parallelism parameter for Argon2id.
	Argon2Threads = 4

	// PBKDF2Iterations is the iteration count for PBKDF2-SHA256 envelopes.
	PBKDF2Iterations = 600000
)

var (
	// ErrInvalidKeySize is returned when a key has an incorrect size.
	ErrInvalidKeySize = errors.New("key must be 32 bytes")

	// ErrInvalidSaltSize is returned when a salt has an incorrect size.
	ErrInvalidSaltSize = errors.New("salt must be 16 bytes")

	// ErrInvalidNonceSize is returned when a nonce does not match the cipher.
	ErrInvalidNonceSize = errors.New("nonce size does not match cipher")

	// ErrDecryptionFailed is returned when decryption fails. A wrong key and a
	// modified ciphertext both produce this error.
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")

	// ErrUnknownKDF is returned for a key derivation id this build does not know.
	ErrUnknownKDF = errors.New("unknown key derivation function")

	// ErrUnknownCipher is returned for a cipher id this build does not know.
	ErrUnknownCipher = errors.New("unknown cipher")

	// ErrInvalidKDFParams is returned when derivation parameters are zero.
	ErrInvalidKDFParams = errors.New("invalid key derivation parameters")
)

// KDF identifies a password key derivation function.
type KDF uint8

const (
	KDFArgon2id     KDF = 1
	KDFPBKDF2SHA256 KDF = 2
)

func (k KDF) String() string {
	switch k {
	case KDFArgon2id:
		return "argon2id"
	case KDFPBKDF2SHA256:
		return "pbkdf2-sha256"
	default:
		return fmt.Sprintf("kdf(%d)", uint8(k))
	}
}

// Valid reports whether k is a known KDF.
func (k KDF) Valid() bool {
	return k == KDFArgon2id || k == KDFPBKDF2SHA256
}

// KDFParams fully describes a key derivation. For PBKDF2 only Time (the
// iteration count) is used.
type KDFParams struct {
	KDF     KDF
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams returns the work factor used for every new envelope.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		KDF:     KDFArgon2id,
		Time:    Argon2Time,
		Memory:  Argon2Memory,
		Threads: Argon2Threads,
	}
}

// Upper bounds on parameters read from an envelope header. A header cannot
// make the reader allocate or spin beyond these.
const (
	maxArgon2Time    = 16
	maxArgon2Memory  = 1 << 20 // 1 GiB in KiB
	maxArgon2Threads = 16
	maxPBKDF2Iter    = 10_000_000
)

// Validate checks that p names a known KDF with parameters in range.
func (p KDFParams) Validate() error {
	switch p.KDF {
	case KDFArgon2id:
		if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
			return ErrInvalidKDFParams
		}
		if p.Time > maxArgon2Time || p.Memory > maxArgon2Memory || p.Threads > maxArgon2Threads {
			return ErrInvalidKDFParams
		}
	case KDFPBKDF2SHA256:
		if p.Time == 0 || p.Time > maxPBKDF2Iter {
			return ErrInvalidKDFParams
		}
	default:
		return ErrUnknownKDF
	}
	return nil
}

// Cipher identifies an AEAD construction.
type Cipher uint8

const (
	CipherAES256GCM         Cipher = 1
	CipherXChaCha20Poly1305 Cipher = 2
)

func (c Cipher) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

// NonceSize returns the nonce length of c, or 0 for an unknown cipher.
func (c Cipher) NonceSize() int {
	switch c {
	case CipherAES256GCM:
		return 12
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	default:
		return 0
	}
}

// Valid reports whether c is a known cipher.
func (c Cipher) Valid() bool {
	return c.NonceSize() > 0
}

// ParseCipher maps a configuration name to a Cipher.
func ParseCipher(name string) (Cipher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-256-gcm", "aes":
		return CipherAES256GCM, nil
	case "xchacha20-poly1305", "xchacha":
		return CipherXChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
}

// GenerateSalt generates a cryptographically secure random 16-byte salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte key from a password using Argon2id with the
// default work factor. The salt must be 16 bytes.
func DeriveKey(password, salt []byte) ([]byte, error) {
	return DeriveKeyWith(DefaultKDFParams(), password, salt)
}

// DeriveKeyWith derives a 32-byte key using the given parameters.
func DeriveKeyWith(p KDFParams, password, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, ErrInvalidSaltSize
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.KDF {
	case KDFPBKDF2SHA256:
		return pbkdf2.Key(password, salt, int(p.Time), KeySize, sha256.New), nil
	default:
		return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeySize), nil
	}
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case CipherXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, ErrUnknownCipher
	}
}

// Seal encrypts plaintext under key. A fresh random nonce is generated for
// every call and returned alongside the ciphertext; callers cannot supply one.
// aad is authenticated but not encrypted.
func Seal(c Cipher, key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext. Any authentication failure is
// reported as ErrDecryptionFailed and no plaintext is returned.
func Open(c Cipher, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ZeroBytes securely zeros a byte slice.
// Use this to clear sensitive data from memory when done.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
