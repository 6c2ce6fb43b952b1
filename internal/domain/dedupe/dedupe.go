// Package dedupe tracks recalculation requests that are already queued or
// running so that repeated requests collapse onto one job.
package dedupe

import (
	"container/list"
	"context"
	"sync"

	"github.com/okian/momentum/internal/domain/model"
)

// Deduper records in-flight keys to ensure at-most-once enqueueing.
type Deduper interface {
	// SeenAndRecord atomically checks if key is tracked and records it if not.
	// Returns true if key was already tracked, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key, allowing it to be enqueued again. Call it when
	// the job finishes or could not be enqueued.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// Key is the dedupe key of a recalculation for one user and day.
func Key(userID string, day model.Date) string {
	return userID + "|" + day.String()
}

// inMemoryDeduper keeps keys in a map plus an insertion-ordered list.
// When full, the oldest key is evicted first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int // 0 or negative = unbounded
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[key] = d.order.PushBack(key)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.seen[key]; exists {
		d.order.Remove(el)
		delete(d.seen, key)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}

// evictOldest drops the longest-tracked key. Caller holds mu.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}
