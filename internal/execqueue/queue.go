package execqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Take once the queue has been closed.
var ErrClosed = errors.New("execution queue closed")

// Entry is one queued execution reference.
type Entry struct {
	ID        string
	Priority  int
	CreatedAt time.Time
	seq       uint64
}

// Queue is a concurrency-safe priority queue with removal by id.
type Queue struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		items:  entryHeap{index: make(map[string]int)},
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue adds id. It reports false when id is already queued or the queue is closed.
func (q *Queue) Enqueue(id string, priority int, createdAt time.Time) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if _, ok := q.items.index[id]; ok {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, &Entry{ID: id, Priority: priority, CreatedAt: createdAt, seq: q.seq})
	q.mu.Unlock()
	q.wake()
	return true
}

// RemoveByID drops id from the queue. It reports false when id was not queued,
// for example because a consumer already took it.
func (q *Queue) RemoveByID(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, ok := q.items.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, pos)
	return true
}

// Take blocks until an entry is available, ctx is done, or the queue closes.
func (q *Queue) Take(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Entry{}, ErrClosed
		}
		entry, ok := q.popLocked()
		remaining := q.items.Len()
		q.mu.Unlock()
		if ok {
			if remaining > 0 {
				// hand the wakeup on to another waiting worker
				q.wake()
			}
			return entry, nil
		}

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.done:
			return Entry{}, ErrClosed
		case <-q.signal:
		}
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items.index[id]
	return ok
}

// Snapshot returns the queued entries in dequeue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	clone := entryHeap{
		entries: make([]*Entry, len(q.items.entries)),
		index:   make(map[string]int, len(q.items.entries)),
	}
	for i, e := range q.items.entries {
		copied := *e
		clone.entries[i] = &copied
		clone.index[e.ID] = i
	}
	q.mu.Unlock()

	out := make([]Entry, 0, clone.Len())
	for clone.Len() > 0 {
		out = append(out, *heap.Pop(&clone).(*Entry))
	}
	return out
}

// Close wakes every blocked Take with ErrClosed. Queued entries are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) popLocked() (Entry, bool) {
	if q.items.Len() == 0 {
		return Entry{}, false
	}
	return *heap.Pop(&q.items).(*Entry), true
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// entryHeap implements heap.Interface and keeps index in sync with positions.
type entryHeap struct {
	entries []*Entry
	index   map[string]int
}

func (h entryHeap) Len() int { return len(h.entries) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.index[h.entries[i].ID] = i
	h.index[h.entries[j].ID] = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	h.index[e.ID] = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *entryHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	delete(h.index, e.ID)
	return e
}
