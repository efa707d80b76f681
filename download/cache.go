package download

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/modpatch/iox"
)

// indexName is the cache index file inside the artifacts directory.
const indexName = "index.msgpack"

// Entry is the index record of one cached artifact.
type Entry struct {
	Version   string    `msgpack:"version"`
	SHA256    string    `msgpack:"sha256"`
	Size      int64     `msgpack:"size"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// Cache is a directory of downloaded artifacts with a msgpack index.
// Safe for concurrent use.
type Cache struct {
	dir   string
	mu    sync.Mutex
	index map[string]Entry
}

// OpenCache opens or creates the cache under <root>/artifacts. A missing or
// unreadable index starts empty; files without an index entry are treated
// as stale.
func OpenCache(root string) (*Cache, error) {
	dir := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{dir: dir, index: make(map[string]Entry)}
	b, err := os.ReadFile(filepath.Join(dir, indexName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	if err := msgpack.Unmarshal(b, &c.index); err != nil || c.index == nil {
		c.index = make(map[string]Entry)
	}
	return c, nil
}

// Dir returns the artifacts directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns where the artifact with key is stored.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key)
}

// Entry returns the index record for key.
func (c *Cache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[key]
	return e, ok
}

// Lookup reports whether a fresh copy of a is cached: the index version
// matches, the file exists with the indexed size, and the hash matches
// both the index and a.SHA256 when given.
func (c *Cache) Lookup(a Artifact) (string, bool) {
	e, ok := c.Entry(a.Key)
	if !ok || e.Version != a.Version {
		return "", false
	}
	if a.SHA256 != "" && a.SHA256 != e.SHA256 {
		return "", false
	}
	p := c.Path(a.Key)
	fi, err := os.Stat(p)
	if err != nil || fi.Size() != e.Size {
		return "", false
	}
	sum, err := fileSHA256(p)
	if err != nil || sum != e.SHA256 {
		return "", false
	}
	return p, true
}

// Put records key in the index and persists it.
func (c *Cache) Put(key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[key] = e
	return c.saveLocked()
}

// Remove drops key from the index and deletes its file.
func (c *Cache) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.index, key)
	if err := os.Remove(c.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return c.saveLocked()
}

// Entries returns a copy of the index.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.index))
	for k, v := range c.index {
		out[k] = v
	}
	return out
}

func (c *Cache) saveLocked() error {
	b, err := msgpack.Marshal(c.index)
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := iox.WriteFile(filepath.Join(c.dir, indexName), b, 0o644); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
