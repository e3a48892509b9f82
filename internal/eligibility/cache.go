package eligibility

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/trialscout/trialscout/internal/trial"
)

// Cache memoizes parsed eligibility per trial so repeated matches against the
// same trial set skip redundant text parsing. Entries are keyed by nctId and
// invalidated when the raw eligibility text's hash changes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	hash   string
	parsed trial.ParsedEligibility
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cacheEntry{}}
}

// Enrich fills t.Parsed, reusing a cached result when the eligibility text is
// unchanged since the last call for this nctId.
func (c *Cache) Enrich(t *trial.Trial) {
	h := HashRaw(t.Eligibility.Raw)

	c.mu.RLock()
	entry, ok := c.entries[t.NCTID]
	c.mu.RUnlock()
	if ok && entry.hash == h {
		t.Parsed = entry.parsed
		return
	}

	Enrich(t)

	c.mu.Lock()
	c.entries[t.NCTID] = cacheEntry{hash: h, parsed: t.Parsed}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HashRaw is the cache invalidation key for an eligibility text block.
func HashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
