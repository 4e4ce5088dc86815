package paymaster

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache provides idempotency for settle operations by caching
// settlement results and tracking in-flight contexts. A settlement context
// is meant to be consumed exactly once; retries after timeouts would
// otherwise charge the sponsor twice.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the specified TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementKey creates a unique key from settlement context bytes. The
// context embeds the sponsor, amounts and gas bounds of one operation, so
// its hash is unique per accepted validation.
func SettlementKey(contextBytes []byte) string {
	hash := sha256.Sum256(contextBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus represents the result of checking the cache.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight settlement.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another caller is currently settling this context.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and marks the key as in-flight
// if needed. Returns:
//   - StatusCached + result if a cached result exists
//   - StatusInFlight + wait channel if another caller is settling
//   - StatusNotFound + nil if this caller should proceed (now marked in-flight)
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		// Expired, clean it up.
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	c.inFlight[key] = make(chan struct{})
	return StatusNotFound, nil, nil
}

// Store caches a settlement result for the key.
func (c *SettlementCache) Store(key string, result *SettleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = result
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Get returns the cached result for the key, if present and unexpired.
func (c *SettlementCache) Get(key string) (*SettleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expiry, exists := c.expiry[key]; exists && time.Now().Before(expiry) {
		if result, ok := c.results[key]; ok {
			return result, true
		}
	}
	return nil, false
}

// Release clears the in-flight marker and wakes any waiters. Must be called
// exactly once per CheckAndMark that returned StatusNotFound.
func (c *SettlementCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if done, exists := c.inFlight[key]; exists {
		close(done)
		delete(c.inFlight, key)
	}
}
