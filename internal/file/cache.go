package file

import (
	"context"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore is a read-through cache over a MetadataStore for FindByID.
// Every write through it invalidates the affected entry, so it is only
// coherent when all writers of this instance go through it.
type CachedStore struct {
	next   MetadataStore
	byID   *expirable.LRU[uuid.UUID, Record]
	byName *expirable.LRU[string, uuid.UUID]
}

// NewCachedStore wraps next with an LRU of at most size records, each kept
// for ttl.
func NewCachedStore(next MetadataStore, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:   next,
		byID:   expirable.NewLRU[uuid.UUID, Record](size, nil, ttl),
		byName: expirable.NewLRU[string, uuid.UUID](size, nil, ttl),
	}
}

func (c *CachedStore) Create(ctx context.Context, rec Record) (Record, error) {
	created, err := c.next.Create(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	c.put(created)
	return created, nil
}

func (c *CachedStore) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if rec, ok := c.byID.Get(id); ok {
		metrics.ObserveCacheLookup(true)
		return rec, nil
	}
	metrics.ObserveCacheLookup(false)

	rec, err := c.next.FindByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	c.put(rec)
	return rec, nil
}

func (c *CachedStore) FindByStoredName(ctx context.Context, storedName string) (Record, error) {
	return c.next.FindByStoredName(ctx, storedName)
}

// Update invalidates before and after the write, including on failure: a
// version conflict means the cached copy is stale, and a read racing the
// write may have cached the old row again.
func (c *CachedStore) Update(ctx context.Context, storedName string, patch Patch) (Record, error) {
	c.invalidate(storedName)

	updated, err := c.next.Update(ctx, storedName, patch)
	c.invalidate(storedName)
	if err != nil {
		return Record{}, err
	}
	c.put(updated)
	return updated, nil
}

func (c *CachedStore) Delete(ctx context.Context, storedName string) error {
	c.invalidate(storedName)
	err := c.next.Delete(ctx, storedName)
	c.invalidate(storedName)
	return err
}

// Uncached returns the wrapped store, for reads that must not be stale.
func (c *CachedStore) Uncached() MetadataStore {
	return c.next
}

// Ping forwards to the wrapped store when it supports it.
func (c *CachedStore) Ping(ctx context.Context) error {
	if p, ok := c.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *CachedStore) put(rec Record) {
	c.byID.Add(rec.ID, rec)
	c.byName.Add(rec.StoredName, rec.ID)
}

func (c *CachedStore) invalidate(storedName string) {
	if id, ok := c.byName.Get(storedName); ok {
		c.byID.Remove(id)
		c.byName.Remove(storedName)
		return
	}
	// The name index can evict before the record does.
	for _, id := range c.byID.Keys() {
		if rec, ok := c.byID.Peek(id); ok && rec.StoredName == storedName {
			c.byID.Remove(id)
			return
		}
	}
}
