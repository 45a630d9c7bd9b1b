// Package tune implements the process-wide autotuning cache used to pick the
// fastest kernel strategy per device and shape class.
//
// The cache maps (device identity, operation, shape key) to the name of the
// winning strategy. Lookups for different keys never serialize; concurrent
// misses on the same key may benchmark redundantly, and whichever result is
// installed last wins. An installed value is always one some caller actually
// measured.
package tune

import (
	"fmt"
	"sync"
	"time"
)

// Candidate is one benchmarkable strategy for an operation.
type Candidate struct {
	// Name identifies this strategy in the cache. It must be stable across
	// processes so persisted entries stay meaningful.
	Name string

	// Bench runs the strategy to completion on synthetic inputs sized for
	// the tuning key. It must not touch caller data. A Bench error excludes
	// this candidate from the current tuning round.
	Bench func() error
}

// Key is a canonical, cache-stable descriptor of an operation's shape class.
type Key interface {
	fmt.Stringer
}

// Entry is one serialized cache entry. An external persistence layer can
// save and restore entries; this package defines the field set only.
type Entry struct {
	Device   string `json:"device"`
	Op       string `json:"op"`
	Key      string `json:"key"`
	Strategy string `json:"strategy"`
}

type cacheKey struct {
	device string
	op     string
	shape  string
}

// Tuner is a concurrent cache of tuning decisions.
// A Tuner is created once at engine initialization and injected into the
// dispatcher; tests use isolated instances.
type Tuner struct {
	mu    sync.RWMutex
	cache map[cacheKey]string
}

// NewTuner creates an empty tuner.
func NewTuner() *Tuner {
	return &Tuner{
		cache: make(map[cacheKey]string),
	}
}

// Lookup returns the cached winning strategy for the given key, if any.
func (t *Tuner) Lookup(device, op string, key Key) (string, bool) {
	ck := cacheKey{device: device, op: op, shape: key.String()}

	t.mu.RLock()
	name, ok := t.cache[ck]
	t.mu.RUnlock()
	return name, ok
}

// Pick returns the name of the strategy to execute for the given key.
//
// On a cache hit whose stored name matches one of the candidates, the name is
// returned without any benchmarking. A stored name unknown to the current
// candidate set is treated as a miss and re-benchmarked.
//
// On a miss, every candidate's Bench is run to completion under wall timing.
// Failing candidates are excluded from the round; if all fail, the last error
// is returned. The fastest candidate is installed in the cache and returned.
func (t *Tuner) Pick(device, op string, key Key, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("tune: no candidates for %s/%s", device, op)
	}

	ck := cacheKey{device: device, op: op, shape: key.String()}

	t.mu.RLock()
	cached, ok := t.cache[ck]
	t.mu.RUnlock()
	if ok {
		for _, c := range candidates {
			if c.Name == cached {
				return cached, nil
			}
		}
		// Stored strategy unknown to this build: fall through and re-benchmark.
	}

	winner := ""
	var best time.Duration
	var lastErr error

	for _, c := range candidates {
		start := time.Now()
		if err := c.Bench(); err != nil {
			lastErr = fmt.Errorf("tune: candidate %s: %w", c.Name, err)
			continue
		}
		elapsed := time.Since(start)

		if winner == "" || elapsed < best {
			winner = c.Name
			best = elapsed
		}
	}

	if winner == "" {
		return "", fmt.Errorf("tune: all candidates failed for %s/%s: %w", device, op, lastErr)
	}

	t.mu.Lock()
	t.cache[ck] = winner
	t.mu.Unlock()

	return winner, nil
}

// Len returns the number of cached decisions.
func (t *Tuner) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}

// Entries returns a snapshot of all cache entries for persistence.
func (t *Tuner) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.cache))
	for ck, name := range t.cache {
		entries = append(entries, Entry{
			Device:   ck.device,
			Op:       ck.op,
			Key:      ck.shape,
			Strategy: name,
		})
	}
	return entries
}

// Restore installs previously persisted entries. Entries whose strategy is
// unknown to the running build are installed as-is; Pick treats them as
// misses when they do not match any candidate.
func (t *Tuner) Restore(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		t.cache[cacheKey{device: e.Device, op: e.Op, shape: e.Key}] = e.Strategy
	}
}
