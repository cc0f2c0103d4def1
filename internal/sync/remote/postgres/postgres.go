// Package postgres is a remote.Remote talking directly to the backend's
// Postgres database, for deployments where the daemon runs next to it.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/sync/remote"
	"github.com/stockline/salesync/internal/uuid"
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Client is a remote.Remote over database/sql with lib/pq.
type Client struct {
	db        *sql.DB
	refColumn string
}

var _ remote.Remote = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRefColumn sets the unique column that stores each create's
// remote.CreateKey. Inserts upsert on it so a repeated create returns the
// existing row. An empty name disables this.
func WithRefColumn(col string) Option {
	return func(c *Client) { c.refColumn = col }
}

// Open connects to dsn. The connection is verified lazily by CheckReachable.
func Open(dsn string, opts ...Option) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, opts ...Option) *Client {
	c := &Client{db: db, refColumn: remote.DefaultRefColumn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func tableName(table models.Table) (string, error) {
	if !table.IsValid() {
		return "", remote.Rejected(fmt.Sprintf("unknown table %q", table), nil)
	}
	return pq.QuoteIdentifier(string(table)), nil
}

// columns returns the payload keys sorted, rejecting anything that is not a
// plain lower-case identifier.
func columns(payload models.Record, skipID bool) ([]string, error) {
	cols := make([]string, 0, len(payload))
	for k := range payload {
		if skipID && k == models.IDField {
			continue
		}
		if !columnPattern.MatchString(k) {
			return nil, remote.Rejected(fmt.Sprintf("invalid column name %q", k), nil)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func buildSelect(table models.Table) (string, []interface{}, error) {
	name, err := tableName(table)
	if err != nil {
		return "", nil, err
	}
	return builder().Select("*").From(name).OrderBy(pq.QuoteIdentifier(models.IDField)).ToSql()
}

// buildInsert writes payload. With refCol set, the create key goes into that
// column and a conflict on it turns into a no-op update that still returns
// the existing row.
func buildInsert(table models.Table, payload models.Record, refCol string) (string, []interface{}, error) {
	name, err := tableName(table)
	if err != nil {
		return "", nil, err
	}
	key := remote.CreateKey(payload)
	payload = remote.StripTemporaryID(payload, uuid.IsTemp)
	suffix := "RETURNING *"
	if refCol != "" && key != "" {
		payload = payload.Clone()
		payload[refCol] = key
		ref := pq.QuoteIdentifier(refCol)
		suffix = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s RETURNING *", ref, ref, ref)
	}
	cols, err := columns(payload, false)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, remote.Rejected("create has no columns", nil)
	}
	quoted := make([]string, len(cols))
	values := make([]interface{}, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
		values[i] = payload[col]
	}
	return builder().Insert(name).Columns(quoted...).Values(values...).Suffix(suffix).ToSql()
}

func buildUpdate(table models.Table, payload models.Record) (string, []interface{}, error) {
	name, err := tableName(table)
	if err != nil {
		return "", nil, err
	}
	cols, err := columns(payload, true)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, remote.Rejected("update has no columns", nil)
	}
	ub := builder().Update(name)
	for _, col := range cols {
		ub = ub.Set(pq.QuoteIdentifier(col), payload[col])
	}
	return ub.Where(sq.Eq{pq.QuoteIdentifier(models.IDField): payload.ID()}).Suffix("RETURNING *").ToSql()
}

func buildDelete(table models.Table, id string) (string, []interface{}, error) {
	name, err := tableName(table)
	if err != nil {
		return "", nil, err
	}
	return builder().Delete(name).Where(sq.Eq{pq.QuoteIdentifier(models.IDField): id}).ToSql()
}

// ReadAll implements remote.Remote.
func (c *Client) ReadAll(ctx context.Context, table models.Table) ([]models.Record, error) {
	stmt, args, err := buildSelect(table)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// Write implements remote.Remote.
func (c *Client) Write(ctx context.Context, table models.Table, op models.Operation, payload models.Record) (models.Record, error) {
	var (
		stmt string
		args []interface{}
		err  error
	)
	switch op {
	case models.OperationCreate:
		stmt, args, err = buildInsert(table, payload, c.refColumn)
	case models.OperationUpdate:
		stmt, args, err = buildUpdate(table, payload)
	case models.OperationDelete:
		stmt, args, err = buildDelete(table, payload.ID())
		if err != nil {
			return nil, err
		}
		if _, err := c.db.ExecContext(ctx, stmt, args...); err != nil {
			return nil, classify(err)
		}
		return nil, nil
	default:
		return nil, remote.Rejected(fmt.Sprintf("unsupported operation %q", op), nil)
	}
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil {
		return nil, classify(err)
	}
	if len(records) == 0 {
		return nil, remote.Rejected(fmt.Sprintf("%s %s %s matched no rows", op, table, payload.ID()), nil)
	}
	return records[0], nil
}

// CheckReachable implements remote.Remote.
func (c *Client) CheckReachable(ctx context.Context) bool {
	return c.db.PingContext(ctx) == nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	records := []models.Record{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(models.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		if id, ok := rec[models.IDField]; ok {
			rec[models.IDField] = models.FormatID(id)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// classify maps database errors onto the remote error classes. Connection,
// resource, shutdown and serialization problems are retryable; constraint,
// data and permission errors are permanent.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57", "58":
			return remote.Unavailable(fmt.Sprintf("postgres %s", pqErr.Code.Name()), err)
		default:
			return remote.Rejected(fmt.Sprintf("postgres %s", pqErr.Code.Name()), err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return remote.Unavailable("postgres connection lost", err)
	}
	return remote.Classify(err)
}
