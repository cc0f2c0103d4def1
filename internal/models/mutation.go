package models

import (
	apperrors "github.com/stockline/salesync/internal/errors"
)

// Mutation is a create, update or delete intended for the remote backend.
type Mutation struct {
	Table     Table     `json:"table"`
	Operation Operation `json:"operation"`
	Payload   Record    `json:"payload"`
	Priority  Priority  `json:"priority,omitempty"`
}

// Validate checks the mutation is well formed.
func (m *Mutation) Validate() error {
	if !m.Table.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", m.Table)
	}
	if !m.Operation.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", m.Operation)
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown priority %q", m.Priority)
	}
	if m.Operation != OperationCreate && m.Payload.ID() == "" {
		return apperrors.Newf(apperrors.ErrInvalid, "%s requires an %q field", m.Operation, IDField)
	}
	if m.Operation == OperationCreate && len(m.Payload) == 0 {
		return apperrors.New(apperrors.ErrInvalid, "create requires a payload")
	}
	return nil
}
