// Package envelope encodes the on-disk vault container.
//
// Layout, version 1 (integers big endian):
//
//	magic "OPVE" | version u8 | kdf u8 | cipher u8 |
//	kdf time u32 | kdf memory u32 | kdf threads u8 |
//	salt len u8 | nonce len u8 | ciphertext len u32 |
//	salt | nonce | ciphertext
//
// Every variable field has an explicit length so a truncated or padded file
// is rejected before any decryption is attempted. The bytes from the magic
// through kdf threads are bound to the ciphertext as AEAD associated data.
package envelope

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
)

// Version1 is the only layout this package writes.
const Version1 uint8 = 1

const (
	aadSize    = 4 + 1 + 1 + 1 + 4 + 4 + 1
	headerSize = aadSize + 1 + 1 + 4

	// maxCiphertext bounds a single envelope to 1 GiB.
	maxCiphertext = 1 << 30
)

var magic = [4]byte{'O', 'P', 'V', 'E'}

var (
	// ErrInvalidFormat is returned when bytes are not a vault envelope.
	ErrInvalidFormat = errors.New("not a vault file")

	// ErrUnsupportedVersion is returned for a well-formed header whose layout
	// version is newer than this build understands.
	ErrUnsupportedVersion = errors.Wrap(ErrInvalidFormat, "unsupported envelope version")
)

// Envelope is the self-describing encrypted container.
type Envelope struct {
	Version    uint8
	KDF        crypto.KDFParams
	Cipher     crypto.Cipher
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// AAD returns the header prefix authenticated together with the ciphertext.
func (e *Envelope) AAD() []byte {
	buf := make([]byte, 0, aadSize)
	buf = append(buf, magic[:]...)
	buf = append(buf, e.Version, uint8(e.KDF.KDF), uint8(e.Cipher))
	buf = binary.BigEndian.AppendUint32(buf, e.KDF.Time)
	buf = binary.BigEndian.AppendUint32(buf, e.KDF.Memory)
	buf = append(buf, e.KDF.Threads)
	return buf
}

func (e *Envelope) validate() error {
	if e.Version != Version1 {
		return errors.Wrapf(ErrUnsupportedVersion, "version %d", e.Version)
	}
	if err := e.KDF.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidFormat, "kdf: %v", err)
	}
	if !e.Cipher.Valid() {
		return errors.Wrapf(ErrInvalidFormat, "cipher id %d", uint8(e.Cipher))
	}
	if len(e.Salt) != crypto.SaltSize {
		return errors.Wrapf(ErrInvalidFormat, "salt length %d; want %d", len(e.Salt), crypto.SaltSize)
	}
	if len(e.Nonce) != e.Cipher.NonceSize() {
		return errors.Wrapf(ErrInvalidFormat, "nonce length %d; want %d", len(e.Nonce), e.Cipher.NonceSize())
	}
	if len(e.Ciphertext) < crypto.TagSize {
		return errors.Wrapf(ErrInvalidFormat, "ciphertext length %d is shorter than the tag", len(e.Ciphertext))
	}
	if len(e.Ciphertext) > maxCiphertext {
		return errors.Wrapf(ErrInvalidFormat, "ciphertext length %d exceeds limit", len(e.Ciphertext))
	}
	return nil
}

// Marshal serializes e. It refuses to write an envelope Parse would reject.
func Marshal(e *Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, errors.Wrap(err, "cannot marshal envelope")
	}

	buf := make([]byte, 0, headerSize+len(e.Salt)+len(e.Nonce)+len(e.Ciphertext))
	buf = append(buf, e.AAD()...)
	buf = append(buf, uint8(len(e.Salt)), uint8(len(e.Nonce)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Ciphertext)))
	buf = append(buf, e.Salt...)
	buf = append(buf, e.Nonce...)
	buf = append(buf, e.Ciphertext...)
	return buf, nil
}

// Parse decodes data into an Envelope. Anything that does not match the
// layout exactly is reported as ErrInvalidFormat.
func Parse(data []byte) (*Envelope, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrInvalidFormat, "header is truncated (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, errors.Wrap(ErrInvalidFormat, "bad magic")
	}

	e := &Envelope{
		Version: data[4],
		KDF: crypto.KDFParams{
			KDF:     crypto.KDF(data[5]),
			Time:    binary.BigEndian.Uint32(data[7:11]),
			Memory:  binary.BigEndian.Uint32(data[11:15]),
			Threads: data[15],
		},
		Cipher: crypto.Cipher(data[6]),
	}
	if e.Version != Version1 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", e.Version)
	}

	saltLen := int(data[16])
	nonceLen := int(data[17])
	ctLen := int(binary.BigEndian.Uint32(data[18:22]))

	body := data[headerSize:]
	if want := saltLen + nonceLen + ctLen; len(body) != want {
		return nil, errors.Wrapf(ErrInvalidFormat, "body is %d bytes; header declares %d", len(body), want)
	}

	e.Salt = bytes.Clone(body[:saltLen])
	e.Nonce = bytes.Clone(body[saltLen : saltLen+nonceLen])
	e.Ciphertext = bytes.Clone(body[saltLen+nonceLen:])

	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Sniff reports whether data starts with the envelope magic. It is a cheap
// probe for import paths and does not validate the rest of the layout.
func Sniff(data []byte) bool {
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic[:])
}
