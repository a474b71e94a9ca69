package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrObjectNotFound is returned by Open when no object exists at the key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey rejects keys that would leave their category namespace.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectKey is the single place where (category, storedName) becomes a
// backend address. Both backends and every locator go through it.
func ObjectKey(category, storedName string) string {
	return category + "/" + storedName
}

func validateKey(category, storedName string) error {
	for _, part := range []string{category, storedName} {
		if part == "" || part == "." || part == ".." ||
			strings.ContainsAny(part, `/\`) || strings.ContainsRune(part, 0) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, ObjectKey(category, storedName))
		}
	}
	return nil
}
