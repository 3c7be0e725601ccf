package orchestrator

import (
	"container/heap"
	"sync"

	"github.com/jkaninda/hive/internal/task"
)

type pendingItem struct {
	task     *task.Task
	priority int
	seq      uint64
}

type pendingHeap []pendingItem

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(pendingItem)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = pendingItem{}
	*h = old[:n-1]
	return item
}

// PendingQueue is the global queue of unassigned tasks. Higher priority
// dequeues first; equal priorities dequeue in arrival order. Safe for
// concurrent use.
type PendingQueue struct {
	mu   sync.Mutex
	h    pendingHeap
	next uint64
}

// Push enqueues t keyed by its current priority.
func (q *PendingQueue) Push(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	heap.Push(&q.h, pendingItem{task: t, priority: t.Priority(), seq: q.next})
}

// Pop removes the most urgent task.
func (q *PendingQueue) Pop() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(pendingItem).task, true
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// IDs returns the queued task ids in dequeue order.
func (q *PendingQueue) IDs() []string {
	q.mu.Lock()
	cp := make(pendingHeap, len(q.h))
	copy(cp, q.h)
	q.mu.Unlock()

	ids := make([]string, 0, len(cp))
	for cp.Len() > 0 {
		ids = append(ids, heap.Pop(&cp).(pendingItem).task.ID())
	}
	return ids
}

// Reset drops every queued task.
func (q *PendingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = nil
	q.next = 0
}
