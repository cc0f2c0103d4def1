// Package memremote is an in-memory Remote used for tests, demos and the
// "memory" remote kind.
package memremote

import (
	"context"
	"strconv"
	"sync"

	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/remote"
	"github.com/stockline/salesync/internal/uuid"
)

// WriteCall records one Write received by the backend.
type WriteCall struct {
	Table     models.Table
	Operation models.Operation
	Payload   models.Record
}

// Remote keeps tables in memory. Server identities are minted as increasing
// integers rendered as strings. Creates are remembered by their
// remote.CreateKey so a repeated create returns the row it made.
type Remote struct {
	mu        sync.Mutex
	tables    map[models.Table][]models.Record
	refs      map[models.Table]map[string]string
	nextID    int
	reachable bool

	writeErrs map[string]error
	readErrs  map[models.Table]error
	failAll   error
	hook      func(WriteCall)

	writes []WriteCall
}

var _ remote.Remote = (*Remote)(nil)

// New creates a reachable, empty backend.
func New() *Remote {
	return &Remote{
		tables:    make(map[models.Table][]models.Record),
		refs:      make(map[models.Table]map[string]string),
		nextID:    1000,
		reachable: true,
		writeErrs: make(map[string]error),
		readErrs:  make(map[models.Table]error),
	}
}

// Seed replaces the contents of table.
func (r *Remote) Seed(table models.Table, records ...models.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]models.Record, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Clone())
	}
	r.tables[table] = rows
}

// SetReachable toggles CheckReachable and makes every call fail as
// unavailable while false.
func (r *Remote) SetReachable(ok bool) {
	r.mu.Lock()
	r.reachable = ok
	r.mu.Unlock()
}

// FailAll makes every call return err until cleared with nil.
func (r *Remote) FailAll(err error) {
	r.mu.Lock()
	r.failAll = err
	r.mu.Unlock()
}

// FailWrite makes writes addressing (table, id) return err until cleared with nil.
func (r *Remote) FailWrite(table models.Table, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.writeErrs, string(table)+"/"+id)
		return
	}
	r.writeErrs[string(table)+"/"+id] = err
}

// FailRead makes ReadAll of table return err until cleared with nil.
func (r *Remote) FailRead(table models.Table, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.readErrs, table)
		return
	}
	r.readErrs[table] = err
}

// OnWrite registers a hook run, outside the lock, before each write is applied.
func (r *Remote) OnWrite(fn func(WriteCall)) {
	r.mu.Lock()
	r.hook = fn
	r.mu.Unlock()
}

// Writes returns every write received so far.
func (r *Remote) Writes() []WriteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WriteCall(nil), r.writes...)
}

// Rows returns a copy of table.
func (r *Remote) Rows(table models.Table) []models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Record, 0, len(r.tables[table]))
	for _, rec := range r.tables[table] {
		out = append(out, rec.Clone())
	}
	return out
}

// Row returns the record with id, or nil.
func (r *Remote) Row(table models.Table, id string) models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, i := r.find(table, id); i >= 0 {
		return rec.Clone()
	}
	return nil
}

func (r *Remote) find(table models.Table, id string) (models.Record, int) {
	for i, rec := range r.tables[table] {
		if rec.ID() == id {
			return rec, i
		}
	}
	return nil, -1
}

func (r *Remote) unavailable() error {
	if !r.reachable {
		return remote.Unavailable("memory remote is offline", nil)
	}
	return r.failAll
}

// ReadAll implements remote.Remote.
func (r *Remote) ReadAll(ctx context.Context, table models.Table) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, remote.Unavailable("read cancelled", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	if err := r.readErrs[table]; err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(r.tables[table]))
	for _, rec := range r.tables[table] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Write implements remote.Remote.
func (r *Remote) Write(ctx context.Context, table models.Table, op models.Operation, payload models.Record) (models.Record, error) {
	call := WriteCall{Table: table, Operation: op, Payload: payload.Clone()}

	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, remote.Unavailable("write cancelled", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, call)

	if err := r.unavailable(); err != nil {
		return nil, err
	}
	if err := r.writeErrs[string(table)+"/"+payload.ID()]; err != nil {
		return nil, err
	}

	id := payload.ID()
	switch op {
	case models.OperationCreate:
		key := remote.CreateKey(payload)
		if serverID, ok := r.refs[table][key]; ok && key != "" {
			if cur, i := r.find(table, serverID); i >= 0 {
				return cur.Clone(), nil
			}
		}
		rec := remote.StripTemporaryID(payload, uuid.IsTemp).Clone()
		if rec.ID() == "" {
			r.nextID++
			rec[models.IDField] = strconv.Itoa(r.nextID)
		} else if _, i := r.find(table, rec.ID()); i >= 0 {
			return nil, remote.Rejected("duplicate key", apperrors.Newf(apperrors.ErrDuplicate, "%s %s already exists", table, rec.ID()))
		}
		r.tables[table] = append(r.tables[table], rec)
		if key != "" {
			if r.refs[table] == nil {
				r.refs[table] = make(map[string]string)
			}
			r.refs[table][key] = rec.ID()
		}
		return rec.Clone(), nil

	case models.OperationUpdate:
		cur, i := r.find(table, id)
		if i < 0 {
			return nil, remote.Rejected("no such row", apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", table, id))
		}
		next := cur.Merge(payload)
		r.tables[table][i] = next
		return next.Clone(), nil

	case models.OperationDelete:
		if _, i := r.find(table, id); i >= 0 {
			rows := r.tables[table]
			r.tables[table] = append(rows[:i:i], rows[i+1:]...)
		}
		return nil, nil
	}
	return nil, remote.Rejected("unsupported operation", apperrors.Newf(apperrors.ErrInvalid, "operation %q", op))
}

// CheckReachable implements remote.Remote.
func (r *Remote) CheckReachable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachable
}
