// Package embedcache wraps a rag.Embedder with a SQLite-backed cache keyed by
// model and text hash. Re-indexing the corpus or repeating a query then costs
// a local lookup instead of a provider call.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
)

// Cache is a rag.Embedder that serves repeated texts from SQLite and forwards
// misses to the wrapped embedder in a single batch. Cache database failures
// are logged and bypassed; they never fail an Embed call.
type Cache struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// next is the embedder consulted on cache misses.
	next rag.Embedder
	// model namespaces keys so switching models never returns stale vectors.
	model string
	// log receives cache bypass warnings.
	log *slog.Logger
}

// DefaultDBPath returns ~/.lawrag/embeddings.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("embedcache: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".lawrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("embedcache: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "embeddings.db"), nil
}

// Open opens (or creates) the cache database at path and wraps next. Use
// ":memory:" for an in-memory database in tests.
func Open(path, model string, next rag.Embedder, log *slog.Logger) (*Cache, error) {
	if next == nil {
		return nil, fmt.Errorf("embedcache: embedder must not be nil")
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, next: next, model: model, log: logging.OrNop(log)}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema if it does not already exist.
func (c *Cache) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embeddings (
    model      TEXT    NOT NULL,
    text_hash  TEXT    NOT NULL,
    dims       INTEGER NOT NULL,
    vector     BLOB    NOT NULL,
    created_at INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (model, text_hash)
);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("embedcache: migrate: %w", err)
	}
	return nil
}

// Embed returns one vector per text, in input order.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = hashText(t)
	}

	hits, err := c.lookup(ctx, hashes)
	if err != nil {
		c.log.Warn("embedcache: lookup failed, bypassing cache", slog.Any("error", err))
		hits = nil
	}

	// Identical texts within one batch are embedded once.
	var missTexts []string
	missIdx := make(map[string][]int)
	for i, h := range hashes {
		if v, ok := hits[h]; ok {
			out[i] = v
			continue
		}
		if _, pending := missIdx[h]; !pending {
			missTexts = append(missTexts, texts[i])
		}
		missIdx[h] = append(missIdx[h], i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedcache: embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	fresh := make(map[string][]float32, len(vecs))
	for i, v := range vecs {
		h := hashText(missTexts[i])
		fresh[h] = v
		for _, idx := range missIdx[h] {
			out[idx] = v
		}
	}
	if err := c.store(ctx, fresh); err != nil {
		c.log.Warn("embedcache: store failed, vectors not cached", slog.Any("error", err))
	}
	return out, nil
}

// lookup fetches cached vectors for hashes, keyed by hash.
func (c *Cache) lookup(ctx context.Context, hashes []string) (map[string][]float32, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	q := `SELECT text_hash, dims, vector FROM embeddings WHERE model = ? AND text_hash IN (` + placeholders + `)`

	args := make([]any, 0, len(hashes)+1)
	args = append(args, c.model)
	for _, h := range hashes {
		args = append(args, h)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("embedcache: lookup: %w", err)
	}
	defer rows.Close()

	hits := make(map[string][]float32)
	for rows.Next() {
		var (
			hash string
			dims int
			blob []byte
		)
		if err := rows.Scan(&hash, &dims, &blob); err != nil {
			return nil, fmt.Errorf("embedcache: lookup scan: %w", err)
		}
		v, err := decodeVector(blob, dims)
		if err != nil {
			c.log.Warn("embedcache: dropping corrupt entry", slog.String("hash", hash), slog.Any("error", err))
			continue
		}
		hits[hash] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedcache: lookup rows: %w", err)
	}
	return hits, nil
}

// store persists fresh vectors in one transaction.
func (c *Cache) store(ctx context.Context, fresh map[string][]float32) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("embedcache: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT OR REPLACE INTO embeddings (model, text_hash, dims, vector, created_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	for h, v := range fresh {
		if _, err := tx.ExecContext(ctx, q, c.model, h, len(v), encodeVector(v), now); err != nil {
			return fmt.Errorf("embedcache: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("embedcache: commit: %w", err)
	}
	return nil
}

// Len returns the number of cached vectors for the configured model.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, c.model).Scan(&n); err != nil {
		return 0, fmt.Errorf("embedcache: count: %w", err)
	}
	return n, nil
}

// Ping checks that the cache database is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("embedcache: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("embedcache: close: %w", err)
	}
	return nil
}

// hashText returns the hex SHA-256 of text.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != 4*dims {
		return nil, errors.New("blob length does not match dims")
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
