package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// sweepEvery triggers a full expired-entry sweep once per this many lookups,
// on top of the lazy per-key eviction.
const sweepEvery = 256

// DedupGuard suppresses repeat alerts for the same dedup key inside a rolling
// window. The window anchors to the first unsuppressed alert, not the latest
// attempt, so a steady duplicate stream cannot permanently silence a channel.
//
// The guard is safe for concurrent use. It is a best-effort in-memory filter:
// the store-level single-live-incident invariant is the real backstop, so a
// rare lost update between two racing callers is acceptable.
type DedupGuard struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	lookups  int
}

// NewDedupGuard initializes an empty guard.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{lastSeen: make(map[string]time.Time)}
}

// Suppress reports whether an alert with the given key should be suppressed
// at instant now. When the key is absent or its entry has expired, the call
// is not suppressed and the entry is set to now; otherwise the entry is left
// untouched and the call is suppressed.
func (g *DedupGuard) Suppress(key string, now time.Time, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lookups++
	if g.lookups >= sweepEvery {
		g.lookups = 0
		g.sweepLocked(now, window)
	}

	seen, ok := g.lastSeen[key]
	if !ok || now.Sub(seen) >= window {
		g.lastSeen[key] = now
		return false
	}
	return true
}

// Forget drops the entry for a key, re-arming it immediately. Called after a
// failed persist so the next identical alert is not swallowed.
func (g *DedupGuard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastSeen, key)
}

// Len returns the number of tracked keys.
func (g *DedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastSeen)
}

func (g *DedupGuard) sweepLocked(now time.Time, window time.Duration) {
	for k, seen := range g.lastSeen {
		if now.Sub(seen) >= window {
			delete(g.lastSeen, k)
		}
	}
}

// DeriveDedupKey builds a deterministic dedup key for requests that did not
// supply one, grouping alerts by (source, title).
func DeriveDedupKey(source, title string) string {
	h := sha256.Sum256([]byte(source + "\x00" + title))
	return hex.EncodeToString(h[:8])
}
