package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/metrics"
	"github.com/eriker75/onenglish-sub002/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxFileSize      = 100 * 1024 * 1024 // 100MB
	defaultOperationTimeout = 30 * time.Second
	maxExtensionLength      = 16
	maxDeleteAttempts       = 3

	// BackupSuffix marks in-flight update backups. The sweeper may remove them.
	BackupSuffix = ".bak"
	// KeptBackupSuffix marks backups kept after a failed restore.
	KeptBackupSuffix = ".keep"
)

// Backend is durable byte storage keyed by (category, storedName).
type Backend interface {
	Put(ctx context.Context, category, storedName, sourcePath, contentType string) (string, error)
	Open(ctx context.Context, category, storedName string) (io.ReadCloser, error)
	Delete(ctx context.Context, category, storedName string) error
	Exists(ctx context.Context, category, storedName string) (bool, error)
	PublicURL(category, storedName string) string
	Ping(ctx context.Context) error
}

// Presigner is implemented by backends that can hand out time-limited URLs.
type Presigner interface {
	PresignGet(ctx context.Context, category, storedName string, ttl time.Duration) (string, error)
}

// MetadataStore persists file records.
type MetadataStore interface {
	Create(ctx context.Context, rec Record) (Record, error)
	FindByID(ctx context.Context, id uuid.UUID) (Record, error)
	FindByStoredName(ctx context.Context, storedName string) (Record, error)
	Update(ctx context.Context, storedName string, patch Patch) (Record, error)
	Delete(ctx context.Context, storedName string) error
}

// Service manages file lifecycle operations: save, safe replacement and
// delete across a Backend and a MetadataStore.
type Service struct {
	repo           MetadataStore
	source         MetadataStore
	backend        Backend
	logger         *zap.Logger
	maxFileSize    int64
	opTimeout      time.Duration
	backupDir      string
	deferOldDelete bool
	locks          *keyedMutex
	newStoredName  func(originalName string) string
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for compensating actions.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxFileSize caps the accepted upload size in bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithOperationTimeout bounds each backend call. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.opTimeout = d
	}
}

// WithBackupDir sets the scratch directory for update backups.
func WithBackupDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.backupDir = dir
		}
	}
}

// WithDeferredDelete controls whether update removes the previous object
// only after the record points at the new one. When disabled, the previous
// object is backed up and removed before the record update, and restored
// from the backup if that update fails.
func WithDeferredDelete(enabled bool) Option {
	return func(s *Service) {
		s.deferOldDelete = enabled
	}
}

// NewService constructs a file service. When repo is a cache, update and
// delete read the record from the store underneath it.
func NewService(repo MetadataStore, backend Backend, opts ...Option) *Service {
	source := repo
	if u, ok := repo.(interface{ Uncached() MetadataStore }); ok {
		source = u.Uncached()
	}
	s := &Service{
		repo:           repo,
		source:         source,
		backend:        backend,
		logger:         zap.NewNop(),
		maxFileSize:    defaultMaxFileSize,
		opTimeout:      defaultOperationTimeout,
		backupDir:      filepath.Join(os.TempDir(), "file-backups"),
		deferOldDelete: true,
		locks:          newKeyedMutex(),
		newStoredName:  generateStoredName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save classifies, stores and records a new file.
func (s *Service) Save(ctx context.Context, up Upload) (Stored, error) {
	category, err := Classify(up.OriginalName, up.MimeType)
	if err != nil {
		metrics.ObserveFileOperation("save", "rejected")
		return Stored{}, err
	}
	size, err := s.checkSize(up)
	if err != nil {
		metrics.ObserveFileOperation("save", "rejected")
		return Stored{}, err
	}

	storedName := s.newStoredName(up.OriginalName)
	ref := ObjectRef{Category: category, StoredName: storedName}
	log := s.logger.With(zap.String("op", "save"), zap.Stringer("object", ref))

	locator, err := s.put(ctx, ref, up.Path, up.MimeType)
	if err != nil {
		log.Warn("write object failed", zap.Error(err))
		return Stored{}, s.fail(&OperationError{Op: "save", Kind: ErrStorageWriteFailed, Err: err})
	}

	rec := Record{
		ID:           uuid.New(),
		Category:     category,
		PublicRef:    locator,
		OriginalName: sanitizeFilename(up.OriginalName),
		StoredName:   storedName,
		SizeBytes:    size,
		MimeType:     normalizeMIME(up.MimeType),
		Version:      1,
	}

	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		opErr := &OperationError{Op: "save", FileID: rec.ID, Kind: ErrRecordCreateFailed, Rollback: RollbackRestored, Err: err}
		if derr := s.remove(context.WithoutCancel(ctx), ref); derr != nil {
			opErr.Rollback = RollbackNone
			opErr.Orphans = []ObjectRef{ref}
			log.Error("remove object after failed record create", zap.Error(derr), zap.NamedError("cause", err))
		} else {
			log.Warn("record create failed, object removed", zap.Error(err))
		}
		return Stored{}, s.fail(opErr)
	}

	metrics.ObserveFileOperation("save", "success")
	return Stored{Record: created}, nil
}

// Update replaces the object behind an existing record. Any failure after the
// new object is written is compensated before returning; the returned
// *OperationError reports what was undone.
func (s *Service) Update(ctx context.Context, id uuid.UUID, up Upload) (Stored, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	old, err := s.source.FindByID(ctx, id)
	if err != nil {
		return Stored{}, fmt.Errorf("find file %s: %w", id, err)
	}

	category, err := Classify(up.OriginalName, up.MimeType)
	if err != nil {
		metrics.ObserveFileOperation("update", "rejected")
		return Stored{}, err
	}
	size, err := s.checkSize(up)
	if err != nil {
		metrics.ObserveFileOperation("update", "rejected")
		return Stored{}, err
	}

	oldRef := old.Object()
	newRef := ObjectRef{Category: category, StoredName: s.newStoredName(up.OriginalName)}
	log := s.logger.With(
		zap.String("op", "update"),
		zap.Stringer("file_id", id),
		zap.Stringer("old_object", oldRef),
		zap.Stringer("new_object", newRef),
	)

	var backupPath string
	if !s.deferOldDelete {
		backupPath, err = s.backup(ctx, oldRef)
		if err != nil {
			log.Warn("backup of current object failed, rollback will not be possible", zap.Error(err))
		}
	}

	locator, err := s.put(ctx, newRef, up.Path, up.MimeType)
	if err != nil {
		s.discardBackup(log, backupPath)
		log.Warn("write new object failed", zap.Error(err))
		return Stored{}, s.fail(&OperationError{Op: "update", FileID: id, Kind: ErrStorageWriteFailed, Err: err})
	}

	if ok, verr := s.exists(ctx, newRef); verr != nil || !ok {
		if verr == nil {
			verr = fmt.Errorf("object %s missing after write", newRef)
		}
		opErr := &OperationError{Op: "update", FileID: id, Kind: ErrVerificationFailed, Rollback: RollbackRestored, Err: verr}
		if derr := s.remove(context.WithoutCancel(ctx), newRef); derr != nil {
			opErr.Orphans = []ObjectRef{newRef}
			log.Warn("remove unverified object failed", zap.Error(derr))
		}
		s.discardBackup(log, backupPath)
		log.Error("verification of new object failed", zap.Error(verr))
		metrics.ObserveRollback(string(opErr.Rollback))
		return Stored{}, s.fail(opErr)
	}

	var orphans []ObjectRef
	oldDeleted := false
	if !s.deferOldDelete {
		if err := s.remove(ctx, oldRef); err != nil {
			orphans = append(orphans, oldRef)
			log.Warn("remove previous object failed, orphan risk", zap.Error(err))
		} else {
			oldDeleted = true
		}
	}

	updated, err := s.repo.Update(ctx, old.StoredName, Patch{
		Category:        category,
		PublicRef:       locator,
		OriginalName:    sanitizeFilename(up.OriginalName),
		StoredName:      newRef.StoredName,
		SizeBytes:       size,
		MimeType:        normalizeMIME(up.MimeType),
		ExpectedVersion: old.Version,
	})
	if err != nil {
		return Stored{}, s.fail(s.rollbackUpdate(ctx, log, old, newRef, backupPath, oldDeleted, err))
	}

	if s.deferOldDelete {
		if err := s.remove(context.WithoutCancel(ctx), oldRef); err != nil {
			orphans = append(orphans, oldRef)
			log.Warn("remove previous object failed, orphan risk", zap.Error(err))
		}
	}
	s.discardBackup(log, backupPath)

	if len(orphans) > 0 {
		metrics.ObserveOrphans(len(orphans))
	}
	metrics.ObserveFileOperation("update", "success")
	return Stored{Record: updated, Orphans: orphans}, nil
}

// rollbackUpdate undoes an update whose record write failed: the new object
// is removed and, when the previous object was already deleted, it is put
// back from the backup.
func (s *Service) rollbackUpdate(ctx context.Context, log *zap.Logger, old Record, newRef ObjectRef, backupPath string, oldDeleted bool, cause error) *OperationError {
	ctx = context.WithoutCancel(ctx)
	opErr := &OperationError{
		Op:         "update",
		FileID:     old.ID,
		Kind:       ErrRecordUpdateFailed,
		OldDeleted: oldDeleted,
		Err:        cause,
	}

	if err := s.remove(ctx, newRef); err != nil {
		opErr.Orphans = append(opErr.Orphans, newRef)
		log.Warn("remove new object during rollback failed", zap.Error(err))
	}

	switch {
	case !oldDeleted:
		opErr.Rollback = RollbackRestored
		s.discardBackup(log, backupPath)
	case backupPath == "":
		opErr.Rollback = RollbackNoBackupAvailable
	default:
		if err := s.restore(ctx, old, backupPath); err != nil {
			opErr.Kind = ErrRestoreFailed
			opErr.Rollback = RollbackRestoreFailed
			opErr.BackupPath = keepBackup(backupPath)
			opErr.Err = errors.Join(cause, err)
		} else {
			opErr.Rollback = RollbackRestored
			s.discardBackup(log, backupPath)
		}
	}

	fields := []zap.Field{
		zap.String("rollback", string(opErr.Rollback)),
		zap.NamedError("cause", cause),
	}
	if opErr.RequiresIntervention() {
		log.Error("record update failed, manual intervention required",
			append(fields, zap.String("backup_path", opErr.BackupPath), zap.Error(opErr.Err))...)
	} else {
		log.Error("record update failed, rolled back", fields...)
	}
	metrics.ObserveRollback(string(opErr.Rollback))
	return opErr
}

// Delete removes the object, then the record. A crash in between leaves a
// record without bytes, never bytes without a record. When the record was
// replaced by another process in the meantime, the current one is deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.source.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("find file %s: %w", id, err)
	}

	for attempt := 1; ; attempt++ {
		log := s.logger.With(zap.String("op", "delete"), zap.Stringer("file_id", id), zap.Stringer("object", rec.Object()))

		if err := s.remove(ctx, rec.Object()); err != nil {
			log.Error("remove object failed", zap.Error(err))
			return s.fail(&OperationError{Op: "delete", FileID: id, Kind: ErrStorageDeleteFailed, Err: err})
		}

		err := s.repo.Delete(ctx, rec.StoredName)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrFileNotFound) {
			log.Error("delete record failed after object removal", zap.Error(err))
			return s.fail(&OperationError{Op: "delete", FileID: id, Kind: ErrRecordDeleteFailed, Err: err})
		}

		current, ferr := s.source.FindByID(ctx, id)
		if errors.Is(ferr, ErrFileNotFound) {
			break
		}
		if ferr != nil {
			log.Error("reload record after missed delete", zap.Error(ferr))
			return s.fail(&OperationError{Op: "delete", FileID: id, Kind: ErrRecordDeleteFailed, Err: ferr})
		}
		if attempt == maxDeleteAttempts {
			log.Error("record keeps changing under delete", zap.Stringer("current_object", current.Object()))
			return s.fail(&OperationError{Op: "delete", FileID: id, Kind: ErrRecordDeleteFailed,
				Err: fmt.Errorf("%w: record now at %s", ErrVersionConflict, current.Object())})
		}
		log.Warn("record replaced concurrently, deleting current object", zap.Stringer("current_object", current.Object()))
		rec = current
	}

	metrics.ObserveFileOperation("delete", "success")
	return nil
}

// Get returns the record for id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("find file %s: %w", id, err)
	}
	return rec, nil
}

// Open returns the record and a stream of its bytes. Caller must close it.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (Record, io.ReadCloser, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, nil, err
	}
	rc, err := s.openObject(ctx, rec)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, rc, nil
}

// OpenByStoredName serves an object by its public address. Only objects a
// record references are served.
func (s *Service) OpenByStoredName(ctx context.Context, category Category, storedName string) (Record, io.ReadCloser, error) {
	rec, err := s.repo.FindByStoredName(ctx, storedName)
	if err != nil {
		return Record{}, nil, fmt.Errorf("find stored name %q: %w", storedName, err)
	}
	if rec.Category != category {
		return Record{}, nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, category, storedName)
	}
	rc, err := s.openObject(ctx, rec)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, rc, nil
}

// PresignedURL returns a time-limited download URL when the backend supports it.
func (s *Service) PresignedURL(ctx context.Context, id uuid.UUID, ttl time.Duration) (string, error) {
	presigner, ok := s.backend.(Presigner)
	if !ok {
		return "", ErrPresignUnsupported
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	return presigner.PresignGet(callCtx, string(rec.Category), rec.StoredName, ttl)
}

// URL returns the public URL of the record's current object.
func (s *Service) URL(rec Record) string {
	return s.backend.PublicURL(string(rec.Category), rec.StoredName)
}

// ResultFor builds the caller-facing result for rec.
func (s *Service) ResultFor(rec Record) Result {
	return Result{
		ID:         rec.ID,
		URL:        s.URL(rec),
		StoredName: rec.StoredName,
		Category:   rec.Category,
	}
}

func (s *Service) openObject(ctx context.Context, rec Record) (io.ReadCloser, error) {
	rc, err := s.backend.Open(ctx, string(rec.Category), rec.StoredName)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warn("record references a missing object",
				zap.Stringer("file_id", rec.ID), zap.Stringer("object", rec.Object()))
			return nil, fmt.Errorf("%w: object %s", ErrFileNotFound, rec.Object())
		}
		return nil, fmt.Errorf("open object %s: %w", rec.Object(), err)
	}
	return rc, nil
}

func (s *Service) checkSize(up Upload) (int64, error) {
	info, err := os.Stat(up.Path)
	if err != nil {
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	size := info.Size()
	if size > s.maxFileSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, s.maxFileSize)
	}
	return size, nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) put(ctx context.Context, ref ObjectRef, sourcePath, mimeType string) (string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.backend.Put(ctx, string(ref.Category), ref.StoredName, sourcePath, normalizeMIME(mimeType))
}

func (s *Service) exists(ctx context.Context, ref ObjectRef) (bool, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.backend.Exists(ctx, string(ref.Category), ref.StoredName)
}

func (s *Service) remove(ctx context.Context, ref ObjectRef) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.backend.Delete(ctx, string(ref.Category), ref.StoredName)
}

// backup streams the current object into a uniquely named scratch file.
func (s *Service) backup(ctx context.Context, ref ObjectRef) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	rc, err := s.backend.Open(ctx, string(ref.Category), ref.StoredName)
	if err != nil {
		return "", fmt.Errorf("open current object: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(s.backupDir, ref.StoredName+".*"+BackupSuffix)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	path := f.Name()

	_, err = io.Copy(f, rc)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return "", fmt.Errorf("copy backup: %w", err)
	}
	return path, nil
}

func (s *Service) restore(ctx context.Context, old Record, backupPath string) error {
	if _, err := s.put(ctx, old.Object(), backupPath, old.MimeType); err != nil {
		return fmt.Errorf("restore %s from %s: %w", old.Object(), backupPath, err)
	}
	return nil
}

func (s *Service) discardBackup(log *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove backup failed", zap.String("backup_path", path), zap.Error(err))
	}
}

// keepBackup renames a backup out of the sweeper's reach. On failure the
// original path is returned.
func keepBackup(path string) string {
	kept := strings.TrimSuffix(path, BackupSuffix) + KeptBackupSuffix
	if err := os.Rename(path, kept); err != nil {
		return path
	}
	return kept
}

func (s *Service) fail(opErr *OperationError) *OperationError {
	metrics.ObserveFileOperation(opErr.Op, "failure")
	if len(opErr.Orphans) > 0 {
		metrics.ObserveOrphans(len(opErr.Orphans))
	}
	return opErr
}

// generateStoredName returns a random token carrying the original extension.
func generateStoredName(originalName string) string {
	return uuid.NewString() + safeExtension(originalName)
}

func safeExtension(name string) string {
	ext := extension(name)
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}
