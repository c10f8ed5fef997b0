package auth

import (
	"crypto/sha256"
	"sync"
	"time"
)

// AuthCache is a TTL-based in-memory cache of successful authentications,
// so the hot path skips bcrypt. Uses sync.Map for lock-free reads.
// Keys are stored as SHA-256 digests, never as raw tokens.
type AuthCache struct {
	store sync.Map // map[[32]byte]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	role      Role
	expiresAt time.Time
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl, now: time.Now}
}

// Get returns the cached role and true on a fresh hit. Expired entries are
// evicted and reported as a miss.
func (c *AuthCache) Get(token string) (Role, bool) {
	key := sha256.Sum256([]byte(token))
	val, ok := c.store.Load(key)
	if !ok {
		return RoleNone, false
	}
	entry := val.(*cacheEntry)
	if c.now().Before(entry.expiresAt) {
		return entry.role, true
	}
	c.store.CompareAndDelete(key, val)
	return RoleNone, false
}

// Set stores a role in the cache with the configured TTL.
func (c *AuthCache) Set(token string, role Role) {
	c.store.Store(sha256.Sum256([]byte(token)), &cacheEntry{
		role:      role,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(token string) {
	c.store.Delete(sha256.Sum256([]byte(token)))
}
