// Package crypto tests for sealing and key derivation.
package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testSealer(t *testing.T, passphrase string) *Sealer {
	t.Helper()
	key, err := DeriveKey(passphrase, bytes.Repeat([]byte{7}, SaltSize))
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	return s
}

// TestSealOpen_roundtrip verifies basic encryption and decryption.
func TestSealOpen_roundtrip(t *testing.T) {
	s := testSealer(t, "device-secret")
	plaintext := []byte(`[{"id":"q1","table":"sales"}]`)

	sealed, err := s.Seal(plaintext, []byte("sync/queue"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("sales")) {
		t.Error("Seal() leaked plaintext")
	}

	opened, err := s.Open(sealed, []byte("sync/queue"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

// TestSeal_uniqueNonce verifies each seal produces a different ciphertext.
func TestSeal_uniqueNonce(t *testing.T) {
	s := testSealer(t, "device-secret")
	a, _ := s.Seal([]byte("same"), nil)
	b, _ := s.Seal([]byte("same"), nil)
	if bytes.Equal(a, b) {
		t.Error("Seal() reused a nonce")
	}
}

func TestOpen_rejects(t *testing.T) {
	s := testSealer(t, "device-secret")
	sealed, err := s.Seal([]byte("stock"), []byte("cache/products"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name    string
		sealer  *Sealer
		data    []byte
		context string
	}{
		{"wrong context", s, sealed, "cache/sales"},
		{"wrong key", testSealer(t, "other-secret"), sealed, "cache/products"},
		{"tampered", s, tampered, "cache/products"},
		{"truncated", s, sealed[:4], "cache/products"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sealer.Open(tt.data, []byte(tt.context))
			if !errors.Is(err, ErrInvalidCiphertext) {
				t.Errorf("Open() error = %v, want ErrInvalidCiphertext", err)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, SaltSize)

	k1, err := DeriveKey("pass", salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, _ := DeriveKey("pass", salt)
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey() is not deterministic")
	}
	if len(k1) != KeySize {
		t.Errorf("len(key) = %d, want %d", len(k1), KeySize)
	}

	other, _ := DeriveKey("pass", bytes.Repeat([]byte{2}, SaltSize))
	if bytes.Equal(k1, other) {
		t.Error("DeriveKey() ignored the salt")
	}

	if _, err := DeriveKey("", salt); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveKey(\"\") error = %v, want ErrInvalidKey", err)
	}
	if _, err := DeriveKey("pass", salt[:4]); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveKey(short salt) error = %v, want ErrInvalidKey", err)
	}
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewSealer(short) error = %v, want ErrInvalidKey", err)
	}
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	b, _ := NewSalt()
	if len(a) != SaltSize || bytes.Equal(a, b) {
		t.Errorf("NewSalt() = %x, %x", a, b)
	}
}
