// Package cache implements the versioned, timestamped statistics cache: a
// freshness window, an advisory fetch lock, and a schema-version tag that
// turns shape changes into cold-cache refetches instead of decode errors.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

// SchemaVersion is bumped whenever the stored record shape changes. A stored
// blob carrying any other version is treated as absent.
const SchemaVersion = 3

const versionKey = "cacheSchemaVersion"

// Entry is one stored blob keyed by path.
type Entry struct {
	Path             string
	Blob             []byte
	UpdatedAt        time.Time
	LastFetchStarted *time.Time
}

// Store is the persistent key-value backend. Read returns nil when the path
// has no entry. MarkFetchStarted must upsert so the lock can be claimed for
// paths that were never written.
type Store interface {
	Read(ctx context.Context, path string) (*Entry, error)
	Write(ctx context.Context, path string, blob []byte, updatedAt time.Time) error
	MarkFetchStarted(ctx context.Context, path string, at time.Time) error
}

type Cache struct {
	store      Store
	ttl        time.Duration
	lockWindow time.Duration
	now        func() time.Time
}

func New(store Store, ttl, lockWindow time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl, lockWindow: lockWindow, now: time.Now}
}

// WithClock substitutes the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) versionMatches(blob []byte) bool {
	var v map[string]json.RawMessage
	if err := json.Unmarshal(blob, &v); err != nil {
		return false
	}
	raw, ok := v[versionKey]
	if !ok {
		return false
	}
	var stored int
	if err := json.Unmarshal(raw, &stored); err != nil {
		return false
	}
	return stored == SchemaVersion
}

// Load decodes the entry at path into out when it exists, carries the current
// schema version, and is younger than the freshness window. Any mismatch or
// corrupt blob reads as a miss, never an error.
func (c *Cache) Load(ctx context.Context, path string, out any) (bool, error) {
	e, err := c.store.Read(ctx, path)
	if err != nil || e == nil {
		return false, err
	}
	if c.now().Sub(e.UpdatedAt) >= c.ttl {
		return false, nil
	}
	return c.decode(e.Blob, out), nil
}

// LoadStale is Load without the freshness check. The collector uses it to
// seed an incremental crawl from known history; the version check still
// applies so a schema bump refetches from scratch.
func (c *Cache) LoadStale(ctx context.Context, path string, out any) (bool, error) {
	e, err := c.store.Read(ctx, path)
	if err != nil || e == nil {
		return false, err
	}
	return c.decode(e.Blob, out), nil
}

func (c *Cache) decode(blob []byte, out any) bool {
	if !c.versionMatches(blob) {
		return false
	}
	return json.Unmarshal(blob, out) == nil
}

// AcquireFetchLock claims the path for this crawl. The lock is advisory: it
// is written before any slow work and goes stale after the lock window, so a
// crashed run never needs manual cleanup.
func (c *Cache) AcquireFetchLock(ctx context.Context, path string) error {
	e, err := c.store.Read(ctx, path)
	if err != nil {
		return err
	}
	now := c.now()
	if e != nil && e.LastFetchStarted != nil && now.Sub(*e.LastFetchStarted) < c.lockWindow {
		return domain.ErrFetchInProgress
	}
	return c.store.MarkFetchStarted(ctx, path, now)
}

// Save marshals stats, stamps the current schema version into the blob, and
// upserts it with updatedAt = now.
func (c *Cache) Save(ctx context.Context, path string, stats any) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	m[versionKey] = SchemaVersion
	b, err = json.Marshal(m)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, path, b, c.now())
}
