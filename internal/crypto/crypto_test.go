package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

var allCiphers = []Cipher{CipherAES256GCM, CipherXChaCha20Poly1305}

func testKey(t testing.TB) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return key
}

// fastParams keeps Argon2id cheap in tests that only care about determinism.
func fastParams() KDFParams {
	return KDFParams{KDF: KDFArgon2id, Time: 1, Memory: 64, Threads: 1}
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(salt) != SaltSize {
		t.Errorf("GenerateSalt() returned salt of length %d, want %d", len(salt), SaltSize)
	}

	// Verify salts are random
	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() second call error = %v", err)
	}
	if bytes.Equal(salt, salt2) {
		t.Error("GenerateSalt() returned identical salts")
	}
}

func TestSealOpen(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hello")},
		{"json", []byte(`[{"id":"o1","name":"Acme Co"}]`)},
		{"long", bytes.Repeat([]byte("x"), 10000)},
		{"binary", []byte{0x00, 0xFF, 0x00, 0xFF, 0xDE, 0xAD, 0xBE, 0xEF}},
		{"all_zeros", make([]byte, 100)},
	}

	key := testKey(t)
	aad := []byte("header")

	for _, c := range allCiphers {
		for _, tt := range tests {
			t.Run(c.String()+"/"+tt.name, func(t *testing.T) {
				nonce, ciphertext, err := Seal(c, key, tt.plaintext, aad)
				if err != nil {
					t.Fatalf("Seal() error = %v", err)
				}
				if len(nonce) != c.NonceSize() {
					t.Errorf("nonce length = %d, want %d", len(nonce), c.NonceSize())
				}
				if len(ciphertext) != len(tt.plaintext)+TagSize {
					t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(tt.plaintext)+TagSize)
				}

				decrypted, err := Open(c, key, nonce, ciphertext, aad)
				if err != nil {
					t.Fatalf("Open() error = %v", err)
				}
				if !bytes.Equal(decrypted, tt.plaintext) {
					t.Errorf("Open() = %v, want %v", decrypted, tt.plaintext)
				}
			})
		}
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext")

	for _, c := range allCiphers {
		seen := make(map[string]struct{})
		for i := 0; i < 1000; i++ {
			nonce, _, err := Seal(c, key, plaintext, nil)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if _, dup := seen[string(nonce)]; dup {
				t.Fatalf("%s: nonce repeated after %d calls", c, i)
			}
			seen[string(nonce)] = struct{}{}
		}
	}
}

func TestSeal_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name   string
		keyLen int
	}{
		{"empty_key", 0},
		{"short_key", 16},
		{"long_key", 64},
		{"off_by_one_short", 31},
		{"off_by_one_long", 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Seal(CipherAES256GCM, make([]byte, tt.keyLen), []byte("test"), nil)
			if !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("Seal() error = %v, wantErr %v", err, ErrInvalidKeySize)
			}
		})
	}
}

func TestSeal_UnknownCipher(t *testing.T) {
	_, _, err := Seal(Cipher(9), testKey(t), []byte("test"), nil)
	if !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("Seal() error = %v, want %v", err, ErrUnknownCipher)
	}
}

func TestOpen_Tampered(t *testing.T) {
	key := testKey(t)
	aad := []byte("header")

	for _, c := range allCiphers {
		nonce, ciphertext, err := Seal(c, key, []byte("secret message"), aad)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}

		for i := range ciphertext {
			tampered := bytes.Clone(ciphertext)
			tampered[i] ^= 0x01
			if _, err := Open(c, key, nonce, tampered, aad); !errors.Is(err, ErrDecryptionFailed) {
				t.Fatalf("%s: flip byte %d error = %v, want %v", c, i, err, ErrDecryptionFailed)
			}
		}

		badNonce := bytes.Clone(nonce)
		badNonce[0] ^= 0x01
		if _, err := Open(c, key, badNonce, ciphertext, aad); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("%s: tampered nonce error = %v", c, err)
		}

		if _, err := Open(c, key, nonce, ciphertext, []byte("other")); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("%s: tampered aad error = %v", c, err)
		}

		if _, err := Open(c, key, nonce, ciphertext[:TagSize-1], aad); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("%s: truncated ciphertext error = %v", c, err)
		}
	}
}

func TestOpen_WrongKey(t *testing.T) {
	nonce, ciphertext, _ := Seal(CipherAES256GCM, testKey(t), []byte("secret"), nil)

	_, err := Open(CipherAES256GCM, testKey(t), nonce, ciphertext, nil)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestOpen_WrongNonceSize(t *testing.T) {
	key := testKey(t)
	_, ciphertext, _ := Seal(CipherAES256GCM, key, []byte("secret"), nil)

	_, err := Open(CipherAES256GCM, key, make([]byte, 24), ciphertext, nil)
	if !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("Open() error = %v, want %v", err, ErrInvalidNonceSize)
	}
}

func TestDeriveKeyWith(t *testing.T) {
	password := []byte("my-secret-password")
	salt, _ := GenerateSalt()

	for _, p := range []KDFParams{fastParams(), {KDF: KDFPBKDF2SHA256, Time: 1000}} {
		t.Run(p.KDF.String(), func(t *testing.T) {
			key, err := DeriveKeyWith(p, password, salt)
			if err != nil {
				t.Fatalf("DeriveKeyWith() error = %v", err)
			}
			if len(key) != KeySize {
				t.Errorf("key length = %d, want %d", len(key), KeySize)
			}

			// Same password + salt should produce same key
			key2, _ := DeriveKeyWith(p, password, salt)
			if !bytes.Equal(key, key2) {
				t.Error("DeriveKeyWith() not deterministic")
			}

			key3, _ := DeriveKeyWith(p, []byte("different"), salt)
			if bytes.Equal(key, key3) {
				t.Error("DeriveKeyWith() produced same key for different password")
			}

			salt2, _ := GenerateSalt()
			key4, _ := DeriveKeyWith(p, password, salt2)
			if bytes.Equal(key, key4) {
				t.Error("DeriveKeyWith() produced same key for different salt")
			}
		})
	}
}

func TestDeriveKey_Default(t *testing.T) {
	if testing.Short() {
		t.Skip("full Argon2id work factor")
	}
	salt, _ := GenerateSalt()
	key, err := DeriveKey([]byte("correct-horse"), salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	want, _ := DeriveKeyWith(DefaultKDFParams(), []byte("correct-horse"), salt)
	if !bytes.Equal(key, want) {
		t.Error("DeriveKey() does not use the default parameters")
	}
}

func TestDeriveKey_InvalidSalt(t *testing.T) {
	for _, n := range []int{0, 15, 17} {
		_, err := DeriveKeyWith(fastParams(), []byte("password"), make([]byte, n))
		if !errors.Is(err, ErrInvalidSaltSize) {
			t.Errorf("salt of %d bytes: error = %v, want %v", n, err, ErrInvalidSaltSize)
		}
	}
}

func TestKDFParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr error
	}{
		{"default", DefaultKDFParams(), nil},
		{"pbkdf2", KDFParams{KDF: KDFPBKDF2SHA256, Time: PBKDF2Iterations}, nil},
		{"zero_time", KDFParams{KDF: KDFArgon2id, Memory: 64, Threads: 1}, ErrInvalidKDFParams},
		{"zero_threads", KDFParams{KDF: KDFArgon2id, Time: 1, Memory: 64}, ErrInvalidKDFParams},
		{"zero_iterations", KDFParams{KDF: KDFPBKDF2SHA256}, ErrInvalidKDFParams},
		{"huge_memory", KDFParams{KDF: KDFArgon2id, Time: 1, Memory: 1<<20 + 1, Threads: 1}, ErrInvalidKDFParams},
		{"huge_time", KDFParams{KDF: KDFArgon2id, Time: 17, Memory: 64, Threads: 1}, ErrInvalidKDFParams},
		{"huge_iterations", KDFParams{KDF: KDFPBKDF2SHA256, Time: 10_000_001}, ErrInvalidKDFParams},
		{"unknown", KDFParams{KDF: 7, Time: 1}, ErrUnknownKDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.params.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCipher(t *testing.T) {
	tests := []struct {
		in      string
		want    Cipher
		wantErr bool
	}{
		{"", CipherAES256GCM, false},
		{"aes-256-gcm", CipherAES256GCM, false},
		{"XChaCha20-Poly1305", CipherXChaCha20Poly1305, false},
		{"rot13", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCipher(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCipher(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCipher(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroBytes(t *testing.T) {
	data := []byte("sensitive data here")
	ZeroBytes(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("ZeroBytes() byte %d = %d, want 0", i, b)
		}
	}
}

func TestLockMemory(t *testing.T) {
	buf := make([]byte, 64)
	// mlock may be refused by RLIMIT_MEMLOCK; only the unlock pairing matters.
	if err := LockMemory(buf); err == nil {
		if err := UnlockMemory(buf); err != nil {
			t.Errorf("UnlockMemory() error = %v", err)
		}
	}
	if err := LockMemory(nil); err != nil {
		t.Errorf("LockMemory(nil) error = %v", err)
	}
}

func BenchmarkSeal(b *testing.B) {
	key := testKey(b)
	plaintext := bytes.Repeat([]byte("x"), 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = Seal(CipherAES256GCM, key, plaintext, nil)
	}
}

func BenchmarkDeriveKey(b *testing.B) {
	password := []byte("benchmark-password")
	salt, _ := GenerateSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveKey(password, salt)
	}
}
