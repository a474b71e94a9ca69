package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const recordColumns = `id, category, public_ref, original_name, stored_name, size_bytes, mime_type, version, created_at, updated_at`

// PostgresStore keeps file records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a new file repository.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts metadata for a new file.
func (r *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, category, public_ref, original_name, stored_name, size_bytes, mime_type, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + recordColumns + `;`

	version := rec.Version
	if version <= 0 {
		version = 1
	}

	stored, err := scanRecord(r.pool.QueryRow(ctx, query,
		rec.ID,
		string(rec.Category),
		rec.PublicRef,
		rec.OriginalName,
		rec.StoredName,
		rec.SizeBytes,
		rec.MimeType,
		version,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("create file metadata: %w", ErrDuplicateStoredName)
		}
		return Record{}, fmt.Errorf("create file metadata: %w", err)
	}
	return stored, nil
}

// FindByID fetches metadata for a single file.
func (r *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files WHERE id = $1;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("get file metadata: %w", err)
	}
	return rec, nil
}

// FindByStoredName fetches the record referencing storedName.
func (r *PostgresStore) FindByStoredName(ctx context.Context, storedName string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files WHERE stored_name = $1;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, storedName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrFileNotFound
		}
		return Record{}, fmt.Errorf("get file metadata by stored name: %w", err)
	}
	return rec, nil
}

// Update applies patch to the record currently stored under storedName,
// provided its version still equals patch.ExpectedVersion.
func (r *PostgresStore) Update(ctx context.Context, storedName string, patch Patch) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE files
SET category = $2,
    public_ref = $3,
    original_name = $4,
    stored_name = $5,
    size_bytes = $6,
    mime_type = $7,
    version = version + 1,
    updated_at = NOW()
WHERE stored_name = $1 AND version = $8
RETURNING ` + recordColumns + `;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query,
		storedName,
		string(patch.Category),
		patch.PublicRef,
		patch.OriginalName,
		patch.StoredName,
		patch.SizeBytes,
		patch.MimeType,
		patch.ExpectedVersion,
	))
	if err == nil {
		return rec, nil
	}
	if isUniqueViolation(err) {
		return Record{}, fmt.Errorf("update file metadata: %w", ErrDuplicateStoredName)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("update file metadata: %w", err)
	}

	var current int64
	err = r.pool.QueryRow(ctx, `SELECT version FROM files WHERE stored_name = $1;`, storedName).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrFileNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("check file version: %w", err)
	}
	return Record{}, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current, patch.ExpectedVersion)
}

// Delete removes the record stored under storedName.
func (r *PostgresStore) Delete(ctx context.Context, storedName string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE stored_name = $1;`, storedName)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		category string
	)
	if err := row.Scan(
		&rec.ID,
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
	rec.Category = Category(category)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
