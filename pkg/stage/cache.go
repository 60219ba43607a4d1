package stage

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"voice-relay/pkg/models"
)

type cacheEntry struct {
	text       string
	confidence float64
	provider   string
}

// translationCache memoizes completed translations keyed by content
// hash and language pair. It is an optimization only: a miss or a full
// cache never affects correctness.
type translationCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	max     int
}

func newTranslationCache(max int) *translationCache {
	return &translationCache{entries: make(map[string]cacheEntry), max: max}
}

func cacheKey(text, sourceLang, targetLang string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x:%s:%s", sum, sourceLang, targetLang)
}

func (c *translationCache) get(text, sourceLang, targetLang string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cacheKey(text, sourceLang, targetLang)]
	return entry, ok
}

func (c *translationCache) put(text, sourceLang, targetLang string, result models.StageResult) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[cacheKey(text, sourceLang, targetLang)] = cacheEntry{
		text:       result.Text,
		confidence: result.Confidence,
		provider:   result.Provider,
	}
}
