// Package crypto seals blobs at rest with AES-256-GCM.
// Keys are derived from a device passphrase with Argon2id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// SaltSize is the length of the random salt stored next to the data.
	SaltSize = 16

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey stretches passphrase into a KeySize key. The same passphrase
// and salt always give the same key.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" || len(salt) < SaltSize {
		return nil, ErrInvalidKey
	}
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// Sealer encrypts and authenticates values with one key.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer for a KeySize key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext. context is authenticated but not stored; Open
// must be given the same value.
func (s *Sealer) Seal(plaintext, context []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, context), nil
}

// Open decrypts data produced by Seal with the same context.
func (s *Sealer) Open(data, context []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize+s.gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, context)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}
