package file

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*fakeRepo
	finds int
}

func (c *countingStore) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	c.finds++
	return c.fakeRepo.FindByID(ctx, id)
}

func TestCachedStoreServesRepeatedReadsFromCache(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, time.Minute)

	rec, err := inner.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := cache.FindByID(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "a.png", got.StoredName)
	}
	assert.Equal(t, 1, inner.finds)
}

func TestCachedStoreInvalidatesOnUpdate(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, time.Minute)

	rec, err := cache.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	_, err = cache.Update(context.Background(), "a.png", Patch{Category: CategoryImage, StoredName: "b.png", ExpectedVersion: 1})
	require.NoError(t, err)

	got, err := cache.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.png", got.StoredName)
	assert.Equal(t, int64(2), got.Version)
}

func TestCachedStoreDropsEntryWhenUpdateFails(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, time.Minute)

	rec, err := cache.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	_, err = cache.Update(context.Background(), "a.png", Patch{StoredName: "b.png", ExpectedVersion: 7})
	require.ErrorIs(t, err, ErrVersionConflict)

	_, err = cache.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.finds, "stale entry must be re-read")
}

func TestCachedStoreInvalidatesOnDelete(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, time.Minute)

	rec, err := cache.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	require.NoError(t, cache.Delete(context.Background(), "a.png"))

	_, err = cache.FindByID(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestCachedStoreEntriesExpire(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, 20*time.Millisecond)

	rec, err := inner.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	_, err = cache.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = cache.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.finds)
}

func TestCachedStoreExposesUncachedStore(t *testing.T) {
	inner := &countingStore{fakeRepo: newFakeRepo()}
	cache := NewCachedStore(inner, 16, time.Minute)

	rec, err := cache.Create(context.Background(), Record{ID: uuid.New(), Category: CategoryImage, StoredName: "a.png", Version: 1})
	require.NoError(t, err)

	svc := NewService(cache, newFakeBackend())
	_, err = svc.source.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.finds, "update and delete read past the cache")
}
