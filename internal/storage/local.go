package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight writes inside the local root. Anything carrying it
// is never referenced by a record and may be swept.
const TempPrefix = ".upload-"

// Local stores objects on the filesystem under root, one directory per
// category.
//
// Writes land in a temp file inside the destination directory and are renamed
// into place, so a reader never sees a partial object. A crash mid-write can
// leave a TempPrefix file behind; the sweeper removes those.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates a Local backend rooted at root, creating the directory if
// needed. baseURL is the public prefix objects are served under.
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Local{root: absRoot, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) abs(category, storedName string) (string, error) {
	if err := validateKey(category, storedName); err != nil {
		return "", err
	}
	joined := filepath.Join(l.root, filepath.FromSlash(ObjectKey(category, storedName)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrInvalidKey, ObjectKey(category, storedName))
	}
	return joined, nil
}

// Put copies sourcePath to (category, storedName). The source is left in place.
func (l *Local) Put(ctx context.Context, category, storedName, sourcePath, contentType string) (string, error) {
	dest, err := l.abs(category, storedName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), TempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	_, werr := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if werr == nil {
		werr = tmp.Sync()
	}
	cerr := tmp.Close()

	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("write object: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("flush object: %w", cerr)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("chmod object: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("rename into place: %w", err)
	}

	return ObjectKey(category, storedName), nil
}

// Open streams the object. Caller must close the returned ReadCloser.
func (l *Local) Open(ctx context.Context, category, storedName string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.abs(category, storedName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ObjectKey(category, storedName))
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (l *Local) Delete(ctx context.Context, category, storedName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.abs(category, storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Exists reports whether a complete object is present at the key.
func (l *Local) Exists(ctx context.Context, category, storedName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := l.abs(category, storedName)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// PublicURL derives the served URL of the object. No I/O.
func (l *Local) PublicURL(category, storedName string) string {
	return l.baseURL + "/" + ObjectKey(category, storedName)
}

// Ping checks that the root is still a reachable directory.
func (l *Local) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", l.root)
	}
	return nil
}

// ctxReader aborts a long copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
