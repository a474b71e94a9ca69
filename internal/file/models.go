package file

import (
	"time"

	"github.com/google/uuid"
)

// Record is the persisted metadata describing one logical file and its
// current backend object.
type Record struct {
	ID           uuid.UUID `json:"id"`
	Category     Category  `json:"category"`
	PublicRef    string    `json:"publicRef"`
	OriginalName string    `json:"originalName"`
	StoredName   string    `json:"storedName"`
	SizeBytes    int64     `json:"sizeBytes"`
	MimeType     string    `json:"mimeType"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Object returns the backend address of the record's bytes.
func (r Record) Object() ObjectRef {
	return ObjectRef{Category: r.Category, StoredName: r.StoredName}
}

// Patch replaces the object-describing fields of a record. The write only
// applies while the stored version equals ExpectedVersion.
type Patch struct {
	Category        Category
	PublicRef       string
	OriginalName    string
	StoredName      string
	SizeBytes       int64
	MimeType        string
	ExpectedVersion int64
}

// Upload is a spooled upload on local disk. The orchestrator never removes
// Path; the caller owns it.
type Upload struct {
	Path         string
	OriginalName string
	Size         int64
	MimeType     string
}

// Stored is the outcome of a successful save or update. A non-empty Orphans
// is a warning: those objects could not be confirmed removed.
type Stored struct {
	Record  Record
	Orphans []ObjectRef
}

// Result is the shape handed to callers of save and update.
type Result struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	StoredName string    `json:"storedName"`
	Category   Category  `json:"category"`
}
