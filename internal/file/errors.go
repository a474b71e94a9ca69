package file

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedType signals that neither the MIME type nor the extension is known.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrFileNotFound signals that the file could not be located.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileTooLarge signals that the upload exceeds configured limits.
	ErrFileTooLarge = errors.New("file too large")
	// ErrStorageWriteFailed signals that the backend could not durably write the object.
	ErrStorageWriteFailed = errors.New("storage write failed")
	// ErrVerificationFailed signals that a written object could not be confirmed.
	ErrVerificationFailed = errors.New("storage verification failed")
	// ErrRecordCreateFailed signals that the metadata record could not be created.
	ErrRecordCreateFailed = errors.New("record create failed")
	// ErrRecordUpdateFailed signals that the metadata record could not be updated.
	ErrRecordUpdateFailed = errors.New("record update failed")
	// ErrRestoreFailed signals that a failed update could not put the previous
	// object back. Manual intervention is required.
	ErrRestoreFailed = errors.New("restore of previous object failed")
	// ErrStorageDeleteFailed signals that the backend object could not be removed.
	ErrStorageDeleteFailed = errors.New("storage delete failed")
	// ErrRecordDeleteFailed signals that the metadata record could not be removed.
	ErrRecordDeleteFailed = errors.New("record delete failed")
	// ErrVersionConflict signals a concurrent modification of the same record.
	ErrVersionConflict = errors.New("record version conflict")
	// ErrDuplicateStoredName signals a stored name collision in the metadata store.
	ErrDuplicateStoredName = errors.New("stored name already exists")
	// ErrPresignUnsupported signals that the active backend cannot presign URLs.
	ErrPresignUnsupported = errors.New("presigned urls not supported by storage backend")
)

// RollbackOutcome describes what a failed operation managed to undo.
type RollbackOutcome string

const (
	RollbackNone              RollbackOutcome = "none"
	RollbackRestored          RollbackOutcome = "restored"
	RollbackRestoreFailed     RollbackOutcome = "restoreFailed"
	RollbackNoBackupAvailable RollbackOutcome = "noBackupAvailable"
)

// ObjectRef addresses a backend object.
type ObjectRef struct {
	Category   Category `json:"category"`
	StoredName string   `json:"storedName"`
}

func (r ObjectRef) String() string {
	return string(r.Category) + "/" + r.StoredName
}

// OperationError is returned by the orchestrator for every failure after
// classification. Kind is one of the sentinel errors above.
type OperationError struct {
	Op       string
	FileID   uuid.UUID
	Kind     error
	Rollback RollbackOutcome
	// Orphans lists objects whose removal could not be confirmed.
	Orphans []ObjectRef
	// BackupPath is set when a restore failed and the backup copy was kept.
	BackupPath string
	// OldDeleted records whether the previous object was gone at failure time.
	OldDeleted bool
	Err        error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.FileID != uuid.Nil {
		fmt.Fprintf(&b, " %s", e.FileID)
	}
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Rollback != "" && e.Rollback != RollbackNone {
		fmt.Fprintf(&b, " (rollback: %s)", e.Rollback)
	}
	if len(e.Orphans) > 0 {
		refs := make([]string, len(e.Orphans))
		for i, o := range e.Orphans {
			refs[i] = o.String()
		}
		fmt.Fprintf(&b, " (orphan risk: %s)", strings.Join(refs, ", "))
	}
	if e.BackupPath != "" {
		fmt.Fprintf(&b, " (backup kept at %s)", e.BackupPath)
	}
	return b.String()
}

func (e *OperationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RequiresIntervention reports whether the failure left state that only an
// operator can repair.
func (e *OperationError) RequiresIntervention() bool {
	switch e.Rollback {
	case RollbackRestoreFailed:
		return true
	case RollbackNoBackupAvailable:
		return e.OldDeleted
	}
	return false
}

// OrphanRisk reports whether the operation left objects it could not remove.
func (e *OperationError) OrphanRisk() bool {
	return len(e.Orphans) > 0
}

// AsOperationError extracts an *OperationError from err.
func AsOperationError(err error) (*OperationError, bool) {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}
