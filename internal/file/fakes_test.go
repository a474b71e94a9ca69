package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/storage"
	"github.com/google/uuid"
)

// --- helpers & fakes ---

func writeUpload(t *testing.T, name, mimeType string, content []byte) Upload {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool-"+uuid.NewString())
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return Upload{Path: path, OriginalName: name, Size: int64(len(content)), MimeType: mimeType}
}

type fakeRepo struct {
	mu        sync.Mutex
	records   map[uuid.UUID]Record
	createErr error
	updateErr error
	deleteErr error
	updates   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]Record)}
}

func (f *fakeRepo) Create(ctx context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Record{}, f.createErr
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrFileNotFound
	}
	return rec, nil
}

func (f *fakeRepo) FindByStoredName(ctx context.Context, storedName string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.StoredName == storedName {
			return rec, nil
		}
	}
	return Record{}, ErrFileNotFound
}

func (f *fakeRepo) Update(ctx context.Context, storedName string, patch Patch) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return Record{}, f.updateErr
	}
	for id, rec := range f.records {
		if rec.StoredName != storedName {
			continue
		}
		if rec.Version != patch.ExpectedVersion {
			return Record{}, ErrVersionConflict
		}
		rec.Category = patch.Category
		rec.PublicRef = patch.PublicRef
		rec.OriginalName = patch.OriginalName
		rec.StoredName = patch.StoredName
		rec.SizeBytes = patch.SizeBytes
		rec.MimeType = patch.MimeType
		rec.Version++
		rec.UpdatedAt = time.Now()
		f.records[id] = rec
		return rec, nil
	}
	return Record{}, ErrFileNotFound
}

func (f *fakeRepo) Delete(ctx context.Context, storedName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, rec := range f.records {
		if rec.StoredName == storedName {
			delete(f.records, id)
			return nil
		}
	}
	return ErrFileNotFound
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeBackend is an in-memory Backend. Failures are injected per stored name
// so a test can fail one step of a multi-step operation.
type fakeBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	putErr     map[string]error
	putCalls   map[string]int
	failPutOn  map[string]int // fail the n-th Put (1-based) of a stored name
	openErr    map[string]error
	deleteErr  map[string]error
	existsFunc func(category, storedName string) (bool, error)
	putHook    func(ctx context.Context) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		objects:   make(map[string][]byte),
		putErr:    make(map[string]error),
		putCalls:  make(map[string]int),
		failPutOn: make(map[string]int),
		openErr:   make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeBackend) Put(ctx context.Context, category, storedName, sourcePath, contentType string) (string, error) {
	if f.putHook != nil {
		if err := f.putHook(ctx); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls[storedName]++
	if err := f.putErr[storedName]; err != nil {
		return "", err
	}
	if n, ok := f.failPutOn[storedName]; ok && f.putCalls[storedName] == n {
		return "", errors.New("injected put failure")
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", err
	}
	key := storage.ObjectKey(category, storedName)
	f.objects[key] = data
	return key, nil
}

func (f *fakeBackend) Open(ctx context.Context, category, storedName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[storedName]; err != nil {
		return nil, err
	}
	data, ok := f.objects[storage.ObjectKey(category, storedName)]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) Delete(ctx context.Context, category, storedName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[storedName]; err != nil {
		return err
	}
	delete(f.objects, storage.ObjectKey(category, storedName))
	return nil
}

func (f *fakeBackend) Exists(ctx context.Context, category, storedName string) (bool, error) {
	if f.existsFunc != nil {
		return f.existsFunc(category, storedName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[storage.ObjectKey(category, storedName)]
	return ok, nil
}

func (f *fakeBackend) PublicURL(category, storedName string) string {
	return "https://cdn.test/" + storage.ObjectKey(category, storedName)
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) has(category Category, storedName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[storage.ObjectKey(string(category), storedName)]
	return ok
}

func (f *fakeBackend) content(category Category, storedName string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[storage.ObjectKey(string(category), storedName)]
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type presigningBackend struct {
	*fakeBackend
}

func (p presigningBackend) PresignGet(ctx context.Context, category, storedName string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + storage.ObjectKey(category, storedName) + "?ttl=" + ttl.String(), nil
}
