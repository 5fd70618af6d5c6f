package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
)

// entry is one memoized AuthLevel decision with the expiry it was computed
// under.
type entry struct {
	level    Level
	userID   *uuid.UUID
	workerID *uuid.UUID
	expires  time.Time
}

// Cache memoizes (document_id, credential-fingerprint) -> AuthLevel for a
// short TTL, keeping the websocket handshake and the hot GET
// /documents/{id}/ path cheap under load. Entries are a plain bounded LRU
// over a composite string key rather than a multi-level map, since the key
// space (document x credential triple) has no natural nesting to exploit.
type Cache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	ttl   time.Duration
}

// NewCache creates a cache holding up to 4096 entries, each valid for ttl.
func NewCache(ttl time.Duration) *Cache {
	c, err := lru.New[string, entry](4096)
	if err != nil {
		panic(err)
	}
	return &Cache{cache: c, ttl: ttl}
}

func cacheKey(documentID uuid.UUID, creds Credentials) string {
	h := sha256.New()
	h.Write(documentID[:])
	h.Write([]byte{0})
	h.Write([]byte(creds.UserToken))
	h.Write([]byte{0})
	h.Write([]byte(creds.WorkerToken))
	h.Write([]byte{0})
	h.Write([]byte(creds.ShareToken))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a memoized level for key, if present and unexpired.
func (c *Cache) Get(key string) (level Level, userID, workerID *uuid.UUID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.cache.Get(key)
	if !found {
		return LevelNone, nil, nil, false
	}
	if time.Now().After(e.expires) {
		c.cache.Remove(key)
		return LevelNone, nil, nil, false
	}
	return e.level, e.userID, e.workerID, true
}

// Put memoizes level for key until the cache's TTL elapses.
func (c *Cache) Put(key string, level Level, userID, workerID *uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, entry{level: level, userID: userID, workerID: workerID, expires: time.Now().Add(c.ttl)})
}

// InvalidateDocument drops every cached entry. Keys are opaque hashes over
// (document, credentials), so a single document's entries cannot be
// selectively evicted; a full purge is acceptable since invalidation
// (a document or share-token mutation) is far rarer than lookups.
func (c *Cache) InvalidateDocument(documentID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
