package control

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// Namespace partitions cache entries by producer. All namespaces share
// one key space, one size budget, and one eviction order.
type Namespace string

const (
	NamespaceFlow       Namespace = "flow"
	NamespaceValidation Namespace = "validation"
	NamespaceGeneric    Namespace = "generic"
)

// compressMinBytes is the threshold above which string and []byte
// values are stored gzip-compressed when compression is enabled.
const compressMinBytes = 1024

type cacheEntry struct {
	key          string
	namespace    Namespace
	value        any
	compressed   string // "", "string", "bytes"
	createdAt    int64
	ttlMs        int64
	accessCount  uint64
	lastAccessed int64
	seq          uint64
	sizeBytes    int64
	tags         []string
}

func (e *cacheEntry) expired(now int64) bool {
	return e.ttlMs > 0 && now >= e.createdAt+e.ttlMs
}

// Cache is the multi-namespace LRU/TTL store. A single mutex guards
// entries and usage patterns; bus events are published after unlock so
// subscribers may call back into the cache.
type Cache struct {
	mu    sync.Mutex
	clock bus.Clock
	bus   *bus.Bus
	cfg   config.CacheConfig

	entries map[string]*cacheEntry
	usage   map[string]*usagePattern
	seq     uint64

	aggressive bool
	ttlMult    float64

	sizeBytes     int64
	hits          uint64
	misses        uint64
	evictions     uint64
	expirations   uint64
	invalidations uint64
}

func NewCache(clock bus.Clock, b *bus.Bus, cfg config.CacheConfig) *Cache {
	return &Cache{
		clock:   clock,
		bus:     b,
		cfg:     cfg,
		entries: make(map[string]*cacheEntry),
		usage:   make(map[string]*usagePattern),
	}
}

type cacheNotice struct {
	topic   string
	payload model.CacheEvent
}

// Put stores a value. ttl <= 0 selects the configured default. Existing
// keys are replaced in place; space is reclaimed LRU-first until both
// the byte and entry budgets hold.
func (c *Cache) Put(ns Namespace, key string, value any, ttl time.Duration, tags []string) {
	now := c.clock.Now()
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = c.cfg.DefaultTTL().Milliseconds()
	}

	stored, kind := value, ""
	if c.cfg.EnableCompression {
		stored, kind = compressValue(value)
	}
	size := estimateSize(stored)

	var notices []cacheNotice

	c.mu.Lock()
	if c.aggressive && ttl <= 0 {
		ttlMs = int64(float64(ttlMs) * c.ttlMult)
	}
	if old, ok := c.entries[key]; ok {
		c.sizeBytes -= old.sizeBytes
		delete(c.entries, key)
	}
	for len(c.entries) >= c.cfg.MaxEntries || c.sizeBytes+size > c.cfg.MaxSizeBytes {
		victim := c.lruVictimLocked()
		if victim == nil {
			break
		}
		c.removeLocked(victim)
		c.evictions++
		notices = append(notices, cacheNotice{bus.TopicCacheEvicted, model.CacheEvent{
			Namespace: string(victim.namespace), Key: victim.key, SizeBytes: victim.sizeBytes, Reason: "lru",
		}})
	}

	c.seq++
	e := &cacheEntry{
		key:          key,
		namespace:    ns,
		value:        stored,
		compressed:   kind,
		createdAt:    now,
		ttlMs:        ttlMs,
		accessCount:  1,
		lastAccessed: now,
		seq:          c.seq,
		sizeBytes:    size,
		tags:         append([]string(nil), tags...),
	}
	c.entries[key] = e
	c.sizeBytes += size
	c.touchUsageLocked(key, now)
	c.mu.Unlock()

	topic := bus.TopicGenericCached
	switch ns {
	case NamespaceFlow:
		topic = bus.TopicFlowCached
	case NamespaceValidation:
		topic = bus.TopicValidationCached
	}
	notices = append(notices, cacheNotice{topic, model.CacheEvent{
		Namespace: string(ns), Key: key, Tags: tags, SizeBytes: size,
	}})
	c.publish(notices)
}

// SetAggressive stretches default TTLs by mult for writes that do not
// name their own TTL. The degradation ladder drives this through the
// enable_caching action; explicit TTLs are unaffected.
func (c *Cache) SetAggressive(on bool, mult float64) {
	if mult <= 0 {
		mult = 1
	}
	c.mu.Lock()
	c.aggressive, c.ttlMult = on, mult
	c.mu.Unlock()
}

// Aggressive reports whether the stretched-TTL mode is active.
func (c *Cache) Aggressive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggressive
}

// Get returns the live value for key. Expired entries are deleted on
// the spot and read as absent.
func (c *Cache) Get(key string) (any, bool) {
	now := c.clock.Now()

	var notices []cacheNotice
	var value any
	var ok bool

	c.mu.Lock()
	e, found := c.entries[key]
	switch {
	case !found:
		c.misses++
	case e.expired(now):
		c.removeLocked(e)
		c.expirations++
		c.misses++
		notices = append(notices, cacheNotice{bus.TopicCacheExpired, model.CacheEvent{
			Namespace: string(e.namespace), Key: key, Reason: "expired",
		}})
	default:
		c.hits++
		e.accessCount++
		e.lastAccessed = now
		c.seq++
		e.seq = c.seq
		c.touchUsageLocked(key, now)
		value, ok = decompressValue(e.value, e.compressed), true
		notices = append(notices, cacheNotice{bus.TopicCacheHit, model.CacheEvent{
			Namespace: string(e.namespace), Key: key,
		}})
	}
	c.mu.Unlock()

	c.publish(notices)
	return value, ok
}

// Invalidate removes one key. Reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	var notices []cacheNotice

	c.mu.Lock()
	e, found := c.entries[key]
	if found {
		c.removeLocked(e)
		c.invalidations++
		notices = append(notices, cacheNotice{bus.TopicCacheInvalidated, model.CacheEvent{
			Namespace: string(e.namespace), Key: key, Reason: "explicit",
		}})
	}
	c.mu.Unlock()

	c.publish(notices)
	return found
}

// InvalidateByTags removes every entry whose tag set intersects tags.
// Returns the number removed.
func (c *Cache) InvalidateByTags(tags []string) int {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}

	var notices []cacheNotice

	c.mu.Lock()
	var victims []*cacheEntry
	for _, e := range c.entries {
		for _, t := range e.tags {
			if want[t] {
				victims = append(victims, e)
				break
			}
		}
	}
	for _, e := range victims {
		c.removeLocked(e)
		c.invalidations++
		notices = append(notices, cacheNotice{bus.TopicCacheInvalidated, model.CacheEvent{
			Namespace: string(e.namespace), Key: e.key, Tags: e.tags, Reason: "tag",
		}})
	}
	c.mu.Unlock()

	c.publish(notices)
	return len(victims)
}

// ClearAll drops every entry and usage pattern. Counters survive.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.usage = make(map[string]*usagePattern)
	c.sizeBytes = 0
	c.invalidations += uint64(n)
	c.mu.Unlock()
}

// CleanupTick sweeps expired entries, announcing each plus a summary.
func (c *Cache) CleanupTick() {
	now := c.clock.Now()

	var notices []cacheNotice

	c.mu.Lock()
	var victims []*cacheEntry
	for _, e := range c.entries {
		if e.expired(now) {
			victims = append(victims, e)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].key < victims[j].key })
	for _, e := range victims {
		c.removeLocked(e)
		c.expirations++
		notices = append(notices, cacheNotice{bus.TopicCacheExpired, model.CacheEvent{
			Namespace: string(e.namespace), Key: e.key, Reason: "expired",
		}})
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	c.publish(notices)
	c.bus.Publish(bus.TopicCleanupCompleted, model.CleanupCompleted{
		Expired: len(victims), Remaining: remaining,
	})
}

// PrefetchTick publishes keys predicted to be accessed within the
// lookahead window. The cache never fetches; consumers decide.
func (c *Cache) PrefetchTick() {
	if !c.cfg.EnablePredictive {
		return
	}
	now := c.clock.Now()
	horizon := now + (5 * time.Minute).Milliseconds()

	c.mu.Lock()
	var keys []string
	for key, u := range c.usage {
		if u.predictedNextAccess == 0 || u.predictedNextAccess > horizon {
			continue
		}
		if _, live := c.entries[key]; live {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	c.bus.Publish(bus.TopicPredictivePrefetch, model.PrefetchCandidates{Keys: keys})
}

// Stats snapshots counters and per-namespace entry counts.
func (c *Cache) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byNS := make(map[string]int)
	for _, e := range c.entries {
		byNS[string(e.namespace)]++
	}
	st := model.CacheStats{
		Entries:       len(c.entries),
		SizeBytes:     c.sizeBytes,
		MaxSizeBytes:  c.cfg.MaxSizeBytes,
		MaxEntries:    c.cfg.MaxEntries,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		Invalidations: c.invalidations,
		ByNamespace:   byNS,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

// Keys lists live keys sorted, for the dashboard cache page.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Cache) lruVictimLocked() *cacheEntry {
	var victim *cacheEntry
	for _, e := range c.entries {
		if victim == nil ||
			e.lastAccessed < victim.lastAccessed ||
			(e.lastAccessed == victim.lastAccessed && e.seq < victim.seq) {
			victim = e
		}
	}
	return victim
}

func (c *Cache) removeLocked(e *cacheEntry) {
	delete(c.entries, e.key)
	delete(c.usage, e.key)
	c.sizeBytes -= e.sizeBytes
}

func (c *Cache) publish(notices []cacheNotice) {
	for _, n := range notices {
		c.bus.Publish(n.topic, n.payload)
	}
}

// estimateSize approximates an entry's footprint by serialized length.
func estimateSize(v any) int64 {
	switch t := v.(type) {
	case string:
		return int64(len(t))
	case []byte:
		return int64(len(t))
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return 64
		}
		return int64(len(b))
	}
}

// compressValue gzips large string/[]byte values. Other types pass
// through untouched so the Put/Get round-trip stays exact.
func compressValue(v any) (any, string) {
	var raw []byte
	var kind string
	switch t := v.(type) {
	case string:
		if len(t) <= compressMinBytes {
			return v, ""
		}
		raw, kind = []byte(t), "string"
	case []byte:
		if len(t) <= compressMinBytes {
			return v, ""
		}
		raw, kind = t, "bytes"
	default:
		return v, ""
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return v, ""
	}
	if err := zw.Close(); err != nil {
		return v, ""
	}
	if buf.Len() >= len(raw) {
		return v, ""
	}
	return buf.Bytes(), kind
}

func decompressValue(v any, kind string) any {
	if kind == "" {
		return v
	}
	blob, ok := v.([]byte)
	if !ok {
		return v
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return v
	}
	raw, err := io.ReadAll(zr)
	_ = zr.Close()
	if err != nil {
		return v
	}
	if kind == "string" {
		return string(raw)
	}
	return raw
}
