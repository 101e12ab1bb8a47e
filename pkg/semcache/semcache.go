// Package semcache is an approximate response cache for reasoning verdicts.
// Entries are keyed by a sha256 fingerprint of the query and carry the
// query's embedding; lookups return the most similar entry above the
// similarity threshold. Without an embedding backend the cache degrades to
// exact-match lookups, never to approximate false hits.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/embedding"
)

const (
	keyPrefix        = "semcache:q:"
	scanBatch        = 100
	DefaultThreshold = 0.92
	DefaultTTL       = time.Hour
	// KnowledgeTTL suits slow-moving reasoning content.
	KnowledgeTTL = 24 * time.Hour
)

// Entry is one cached reasoning outcome.
type Entry struct {
	Query     string    `json:"query"`
	Verdict   string    `json:"verdict"`
	Reasoning string    `json:"reasoning"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a successful lookup.
type Hit struct {
	Verdict    string
	Reasoning  string
	Similarity float64
	Exact      bool
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits      int64   `json:"hits"`
	ExactHits int64   `json:"exact_hits"`
	Misses    int64   `json:"misses"`
	Creates   int64   `json:"creates"`
	Entries   int64   `json:"entries"`
	Mode      string  `json:"mode"`
	Threshold float64 `json:"similarity_threshold"`
}

// Cache is the semantic cache. With a nil redis client it runs fully
// in-memory; with a nil or disabled embedder it runs in exact-match mode.
type Cache struct {
	rdb       *redis.Client
	embedder  embedding.Embedder
	threshold float64
	ttl       time.Duration

	hits      atomic.Int64
	exactHits atomic.Int64
	misses    atomic.Int64
	creates   atomic.Int64

	mu  sync.Mutex
	mem map[string]memEntry

	now func() time.Time
}

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

// New builds the cache. A nil client selects the in-memory backend;
// callers that fail the startup redis ping pass nil here.
func New(client *redis.Client, embedder embedding.Embedder, threshold float64, ttl time.Duration) *Cache {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rdb:       client,
		embedder:  embedder,
		threshold: threshold,
		ttl:       ttl,
		mem:       map[string]memEntry{},
		now:       time.Now,
	}
}

func fingerprint(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Get returns the best entry for the query. Approximate matching requires a
// working embedder; embedding failures fall back to the exact fingerprint.
func (c *Cache) Get(ctx context.Context, query string) (Hit, bool) {
	vec := c.embedQuery(ctx, query)
	if vec == nil {
		return c.getExact(ctx, query)
	}

	best, bestSim, ok := c.scanBest(ctx, vec)
	if !ok || bestSim < c.threshold {
		c.misses.Add(1)
		return Hit{}, false
	}
	c.hits.Add(1)
	return Hit{Verdict: best.Verdict, Reasoning: best.Reasoning, Similarity: bestSim}, true
}

// Put stores a reasoning outcome under the query fingerprint. Idempotent per
// fingerprint: a repeat write refreshes the entry and its TTL.
func (c *Cache) Put(ctx context.Context, query, verdict, reasoning string) {
	c.PutTTL(ctx, query, verdict, reasoning, c.ttl)
}

// PutTTL is Put with an explicit TTL, for slower-moving content.
func (c *Cache) PutTTL(ctx context.Context, query, verdict, reasoning string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry := Entry{
		Query:     query,
		Verdict:   verdict,
		Reasoning: reasoning,
		Embedding: c.embedQuery(ctx, query),
		CreatedAt: c.now().UTC(),
	}
	key := keyPrefix + fingerprint(query)

	if c.rdb != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			return
		}
		if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
			log.Printf("semcache: store failed: %v", err)
			return
		}
	} else {
		c.mu.Lock()
		c.mem[key] = memEntry{entry: entry, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
	}
	c.creates.Add(1)
}

// Snapshot returns current cache statistics.
func (c *Cache) Snapshot(ctx context.Context) Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		ExactHits: c.exactHits.Load(),
		Misses:    c.misses.Load(),
		Creates:   c.creates.Load(),
		Threshold: c.threshold,
		Mode:      "memory",
	}
	if c.rdb != nil {
		s.Mode = "redis"
		var cursor uint64
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
			if err != nil {
				break
			}
			s.Entries += int64(len(keys))
			cursor = next
			if cursor == 0 {
				break
			}
		}
	} else {
		c.mu.Lock()
		c.cleanupLocked()
		s.Entries = int64(len(c.mem))
		c.mu.Unlock()
	}
	return s
}

func (c *Cache) embedQuery(ctx context.Context, query string) []float32 {
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if !errors.Is(err, embedding.ErrUnavailable) {
			log.Printf("semcache: embedding failed, exact mode: %v", err)
		}
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

func (c *Cache) getExact(ctx context.Context, query string) (Hit, bool) {
	key := keyPrefix + fingerprint(query)
	var entry Entry
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			c.misses.Add(1)
			return Hit{}, false
		}
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.misses.Add(1)
			return Hit{}, false
		}
	} else {
		c.mu.Lock()
		c.cleanupLocked()
		item, ok := c.mem[key]
		c.mu.Unlock()
		if !ok {
			c.misses.Add(1)
			return Hit{}, false
		}
		entry = item.entry
	}
	c.exactHits.Add(1)
	return Hit{Verdict: entry.Verdict, Reasoning: entry.Reasoning, Similarity: 1, Exact: true}, true
}

// scanBest walks every live entry and keeps the highest similarity; ties
// break toward the most recently created entry.
func (c *Cache) scanBest(ctx context.Context, vec []float32) (Entry, float64, bool) {
	var (
		best    Entry
		bestSim float64
		found   bool
	)
	consider := func(e Entry) {
		if len(e.Embedding) == 0 {
			return
		}
		sim := embedding.Cosine(vec, e.Embedding)
		if sim > bestSim || (sim == bestSim && found && e.CreatedAt.After(best.CreatedAt)) {
			best, bestSim, found = e, sim, true
		}
	}

	if c.rdb != nil {
		var cursor uint64
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
			if err != nil {
				log.Printf("semcache: scan failed: %v", err)
				return Entry{}, 0, false
			}
			for _, key := range keys {
				raw, err := c.rdb.Get(ctx, key).Result()
				if err != nil {
					continue
				}
				var e Entry
				if err := json.Unmarshal([]byte(raw), &e); err != nil {
					continue
				}
				consider(e)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return best, bestSim, found
	}

	c.mu.Lock()
	c.cleanupLocked()
	for _, item := range c.mem {
		consider(item.entry)
	}
	c.mu.Unlock()
	return best, bestSim, found
}

func (c *Cache) cleanupLocked() {
	now := c.now()
	for k, v := range c.mem {
		if now.After(v.expiresAt) {
			delete(c.mem, k)
		}
	}
}
