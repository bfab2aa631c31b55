package core

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"swapvault/internal/observability"
)

// Deduper implements two-tier request deduplication: an in-memory LRU for
// the hot path and Postgres for keys that aged out of the cache. A DB error
// on the cold path is treated as "not duplicate" so a database hiccup never
// blocks the vault.
type Deduper struct {
	mu  sync.Mutex
	lru *dedupeLRU

	dbChecker DBDedupeChecker
	metrics   *observability.Metrics
}

// DBDedupeChecker is the interface for the Postgres dedup lookup.
type DBDedupeChecker interface {
	IsDuplicate(opType string, requestKey string) (bool, error)
}

func NewDeduper(capacity int, dbChecker DBDedupeChecker, metrics *observability.Metrics) *Deduper {
	return &Deduper{
		lru:       newDedupeLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether a request key has already been committed.
func (d *Deduper) IsDuplicate(opType, requestKey string) bool {
	key := fmt.Sprintf("%s:%s", opType, requestKey)

	d.mu.Lock()
	hit := d.lru.contains(key)
	d.mu.Unlock()
	if hit {
		if d.metrics != nil {
			d.metrics.IdempotencyDuplicates.WithLabelValues(opType, "lru").Inc()
		}
		return true
	}

	if d.dbChecker == nil {
		return false
	}

	start := time.Now()
	isDup, err := d.dbChecker.IsDuplicate(opType, requestKey)
	if d.metrics != nil {
		d.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if d.metrics != nil {
			d.metrics.PersistErrors.WithLabelValues("dedup_lookup").Inc()
		}
		return false
	}
	if isDup {
		if d.metrics != nil {
			d.metrics.IdempotencyDuplicates.WithLabelValues(opType, "postgres").Inc()
		}
		d.mu.Lock()
		d.lru.add(key)
		d.mu.Unlock()
		return true
	}
	return false
}

// MarkProcessed records a committed request key in the LRU.
func (d *Deduper) MarkProcessed(opType, requestKey string) {
	key := fmt.Sprintf("%s:%s", opType, requestKey)
	d.mu.Lock()
	before := d.lru.evictions
	d.lru.add(key)
	size := d.lru.size()
	evicted := d.lru.evictions - before
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(size))
		if evicted > 0 {
			d.metrics.DedupLRUEvictions.Add(float64(evicted))
		}
	}
}

// Warm loads recent composite keys, typically read from Postgres on startup,
// so replayed traffic does not pay the cold-path lookup.
func (d *Deduper) Warm(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		d.lru.add(key)
	}
}

// --- LRU ---

type dedupeLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	evictions int64
}

type dedupeEntry struct {
	key string
}

func newDedupeLRU(capacity int) *dedupeLRU {
	return &dedupeLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *dedupeLRU) contains(key string) bool {
	elem, exists := l.cache[key]
	if exists {
		l.order.MoveToFront(elem)
		return true
	}
	return false
}

func (l *dedupeLRU) add(key string) {
	if elem, exists := l.cache[key]; exists {
		l.order.MoveToFront(elem)
		return
	}
	elem := l.order.PushFront(&dedupeEntry{key: key})
	l.cache[key] = elem
	if l.order.Len() > l.capacity {
		l.evictOldest()
	}
}

func (l *dedupeLRU) evictOldest() {
	elem := l.order.Back()
	if elem == nil {
		return
	}
	l.order.Remove(elem)
	delete(l.cache, elem.Value.(*dedupeEntry).key)
	l.evictions++
}

func (l *dedupeLRU) size() int {
	return l.order.Len()
}
