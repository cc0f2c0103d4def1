// Package remote defines the contract with the hosted data backend.
package remote

import (
	"context"
	"errors"
	"net"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/models"
)

// DefaultRefColumn is the backend column that stores the device identity of
// a created row.
const DefaultRefColumn = "client_ref"

// Remote is the hosted data backend.
//
// Errors must be classified with Unavailable (retryable: network, timeout,
// server overload) or Rejected (permanent: validation, permissions, missing
// rows).
//
// A create is applied at most once per CreateKey. Repeating a create whose
// key was already applied returns the existing row, so a retry after a lost
// reply does not add a second one.
type Remote interface {
	// ReadAll returns every record of table in server order.
	ReadAll(ctx context.Context, table models.Table) ([]models.Record, error)
	// Write applies one mutation and returns the confirmed record. The record
	// may be nil for deletes.
	Write(ctx context.Context, table models.Table, op models.Operation, payload models.Record) (models.Record, error)
	// CheckReachable reports whether the backend answers. It never panics.
	CheckReachable(ctx context.Context) bool
}

// Unavailable wraps err as a retryable REMOTE_UNAVAILABLE error.
func Unavailable(message string, err error) error {
	return apperrors.Wrap(apperrors.ErrRemoteUnavailable, message, err)
}

// Rejected wraps err as a permanent REMOTE_REJECTED error.
func Rejected(message string, err error) error {
	return apperrors.Wrap(apperrors.ErrRemoteRejected, message, err)
}

// Classify turns an arbitrary error from a remote call into a classified
// one. Already classified errors pass through; context expiry and network
// errors are unavailable; anything else is rejected.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrRemoteUnavailable, apperrors.ErrRemoteRejected:
		return err
	}
	if IsTransient(err) {
		return Unavailable("remote unavailable", err)
	}
	return Rejected("remote rejected the request", err)
}

// IsTransient reports whether err looks like a network or timeout failure.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// CreateKey returns the idempotency key of a create: the identity the device
// gave the record, temporary or not. It is empty when the payload has none.
func CreateKey(payload models.Record) string {
	return payload.ID()
}

// StripTemporaryID returns payload without a temporary identity, so the
// server assigns the real one on create.
func StripTemporaryID(payload models.Record, isTemp func(string) bool) models.Record {
	if !isTemp(payload.ID()) {
		return payload
	}
	out := payload.Clone()
	delete(out, models.IDField)
	return out
}
