package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ledgerlens/ledgerlens/pkg/cache"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// Cache is an exact-match response cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Store = (*Cache)(nil)

// Timestamps are unix nanoseconds so the expiry comparison is exact.
const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	fingerprint TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at);
`

// Option customizes the cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// DSN returns the modernc.org/sqlite data source for a database file, with a
// busy timeout so concurrent writers wait instead of failing.
func DSN(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// New creates a Cache stored in the given database file.
func New(dbPath string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get retrieves a cached response. Entries whose expiry is not strictly in the
// future are treated as absent.
func (c *Cache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	var response string
	err := c.db.QueryRowContext(ctx,
		`SELECT response FROM response_cache WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, c.now().UnixNano(),
	).Scan(&response)

	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, &cache.Error{Op: "get", Err: err}
	}

	c.hits.Add(1)
	return response, true, nil
}

// Put upserts a response; the last write for a fingerprint wins.
func (c *Cache) Put(ctx context.Context, fingerprint, prompt, response string, ttl time.Duration) error {
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO response_cache (fingerprint, prompt, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			prompt = excluded.prompt,
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		fingerprint, prompt, response, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return &cache.Error{Op: "put", Err: err}
	}
	return nil
}

// Entry returns the stored row regardless of expiry.
func (c *Cache) Entry(ctx context.Context, fingerprint string) (models.CacheEntry, bool, error) {
	var e models.CacheEntry
	var created, expires int64
	err := c.db.QueryRowContext(ctx,
		`SELECT fingerprint, prompt, response, created_at, expires_at FROM response_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&e.Fingerprint, &e.Prompt, &e.Response, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, &cache.Error{Op: "entry", Err: err}
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.ExpiresAt = time.Unix(0, expires).UTC()
	return e, true, nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var total, expired int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM response_cache`,
		c.now().UnixNano(),
	).Scan(&total, &expired)
	if err != nil {
		return models.CacheStats{}, &cache.Error{Op: "stats", Err: err}
	}
	return models.CacheStats{
		Entries: total,
		Expired: expired,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, c.now().UnixNano())
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM response_cache`)
	}
	if err != nil {
		return &cache.Error{Op: "clear", Err: err}
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
