package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/stockline/salesync/internal/db"
	apperrors "github.com/stockline/salesync/internal/errors"
)

const blobTable = "blobs"

// SQLiteStore keeps blobs as rows of the blobs table created by the db
// migrations.
type SQLiteStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened and migrated database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database, now: time.Now}
}

func (s *SQLiteStore) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// ReadBlob implements BlobStore.
func (s *SQLiteStore) ReadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	stmt, args, err := s.builder().Select("value").From(blobTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrInternal, "failed to build select", err)
	}

	var data []byte
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to read blob", err)
	}
	return data, true, nil
}

// WriteBlob implements BlobStore with a single upsert statement.
func (s *SQLiteStore) WriteBlob(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	stmt, args, err := s.builder().
		Insert(blobTable).
		Columns("key", "value", "updated_at").
		Values(key, data, s.now().UnixNano()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build upsert", err)
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to write blob", err)
	}
	return nil
}

// DeleteBlob implements BlobStore.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, key string) error {
	stmt, args, err := s.builder().Delete(blobTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build delete", err)
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailure, "failed to delete blob", err)
	}
	return nil
}

// ListKeys implements Lister.
func (s *SQLiteStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	stmt, args, err := s.builder().
		Select("key").
		From(blobTable).
		Where(sq.Like{"key": prefix + "%"}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build select", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to list blobs", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to scan key", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailure, "failed to list blobs", err)
	}
	return keys, nil
}
