package storage

import (
	"context"

	"github.com/stockline/salesync/internal/crypto"
	apperrors "github.com/stockline/salesync/internal/errors"
)

// SaltKey holds the per-device key derivation salt in plain form.
const SaltKey = "crypto/salt"

// EncryptedStore seals every value before handing it to the wrapped store.
// The blob key is bound to each value, so a value copied under another key
// fails to open.
type EncryptedStore struct {
	inner  BlobStore
	sealer *crypto.Sealer
}

// NewEncryptedStore wraps inner. The salt is read from inner, or generated
// and stored on first use.
func NewEncryptedStore(ctx context.Context, inner BlobStore, passphrase string) (*EncryptedStore, error) {
	salt, found, err := inner.ReadBlob(ctx, SaltKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read encryption salt", err)
	}
	if !found {
		if salt, err = crypto.NewSalt(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to generate encryption salt", err)
		}
		if err := inner.WriteBlob(ctx, SaltKey, salt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to store encryption salt", err)
		}
	}

	key, err := crypto.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "invalid encryption key", err)
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "invalid encryption key", err)
	}
	return &EncryptedStore{inner: inner, sealer: sealer}, nil
}

// ReadBlob implements BlobStore. A value that fails to open is reported as
// STORAGE_FAILURE.
func (s *EncryptedStore) ReadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	sealed, found, err := s.inner.ReadBlob(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	data, err := s.sealer.Open(sealed, []byte(key))
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to decrypt "+key, err)
	}
	return data, true, nil
}

// WriteBlob implements BlobStore.
func (s *EncryptedStore) WriteBlob(ctx context.Context, key string, data []byte) error {
	sealed, err := s.sealer.Seal(data, []byte(key))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encrypt "+key, err)
	}
	return s.inner.WriteBlob(ctx, key, sealed)
}

// DeleteBlob implements BlobStore.
func (s *EncryptedStore) DeleteBlob(ctx context.Context, key string) error {
	return s.inner.DeleteBlob(ctx, key)
}

// Encrypt wraps inner in an EncryptedStore. The result implements Lister
// only when inner does.
func Encrypt(ctx context.Context, inner BlobStore, passphrase string) (BlobStore, error) {
	es, err := NewEncryptedStore(ctx, inner, passphrase)
	if err != nil {
		return nil, err
	}
	if lister, ok := inner.(Lister); ok {
		return &listingEncryptedStore{EncryptedStore: es, lister: lister}, nil
	}
	return es, nil
}

type listingEncryptedStore struct {
	*EncryptedStore
	lister Lister
}

// ListKeys implements Lister, hiding the salt.
func (s *listingEncryptedStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.lister.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if k != SaltKey {
			out = append(out, k)
		}
	}
	return out, nil
}
