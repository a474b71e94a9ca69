package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps file records in a sqlite database opened with
// storage.OpenSQLite. Intended for development and single-node deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open sqlite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLiteStore) Create(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	now := r.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.Version <= 0 {
		rec.Version = 1
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO files (id, category, public_ref, original_name, stored_name, size_bytes, mime_type, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID.String(), string(rec.Category), rec.PublicRef, rec.OriginalName, rec.StoredName,
		rec.SizeBytes, rec.MimeType, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return Record{}, fmt.Errorf("create file metadata: %w", ErrDuplicateStoredName)
		}
		return Record{}, fmt.Errorf("create file metadata: %w", err)
	}
	return rec, nil
}

func (r *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanSQLiteRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE id = ?;`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("get file metadata: %w", err)
	}
	return rec, nil
}

func (r *SQLiteStore) FindByStoredName(ctx context.Context, storedName string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanSQLiteRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE stored_name = ?;`, storedName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("get file metadata by stored name: %w", err)
	}
	return rec, nil
}

// Update applies patch if the stored version still equals
// patch.ExpectedVersion. The check and the write share one transaction.
func (r *SQLiteStore) Update(ctx context.Context, storedName string, patch Patch) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
UPDATE files
SET category = ?, public_ref = ?, original_name = ?, stored_name = ?, size_bytes = ?, mime_type = ?,
    version = version + 1, updated_at = ?
WHERE stored_name = ? AND version = ?;`,
		string(patch.Category), patch.PublicRef, patch.OriginalName, patch.StoredName,
		patch.SizeBytes, patch.MimeType, r.now(), storedName, patch.ExpectedVersion,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return Record{}, fmt.Errorf("update file metadata: %w", ErrDuplicateStoredName)
		}
		return Record{}, fmt.Errorf("update file metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update file metadata: %w", err)
	}

	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM files WHERE stored_name = ?;`, storedName).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		if err != nil {
			return Record{}, fmt.Errorf("check file version: %w", err)
		}
		return Record{}, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current, patch.ExpectedVersion)
	}

	rec, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE stored_name = ?;`, patch.StoredName))
	if err != nil {
		return Record{}, fmt.Errorf("reload file metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (r *SQLiteStore) Delete(ctx context.Context, storedName string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE stored_name = ?;`, storedName)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFileNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLiteStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanSQLiteRecord(row *sql.Row) (Record, error) {
	var (
		rec      Record
		id       string
		category string
	)
	if err := row.Scan(
		&id,
		&category,
		&rec.PublicRef,
		&rec.OriginalName,
		&rec.StoredName,
		&rec.SizeBytes,
		&rec.MimeType,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("parse file id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Category = Category(category)
	return rec, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
