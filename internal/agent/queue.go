package agent

import (
	"container/heap"

	"github.com/jkaninda/hive/internal/task"
)

// queued is a task waiting in an agent's local queue. priority is
// captured at insertion time; seq breaks ties in arrival order.
type queued struct {
	task     *task.Task
	priority int
	seq      uint64
}

// localQueue is a max-heap on priority with FIFO among equal priorities.
// Not safe for concurrent use; the owning Agent serializes access.
type localQueue struct {
	items   []queued
	nextSeq uint64
}

func (q *localQueue) Len() int { return len(q.items) }

func (q *localQueue) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority > q.items[j].priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *localQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *localQueue) Push(x any) { q.items = append(q.items, x.(queued)) }

func (q *localQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = queued{}
	q.items = old[:n-1]
	return item
}

func (q *localQueue) push(t *task.Task) {
	q.nextSeq++
	heap.Push(q, queued{task: t, priority: t.Priority(), seq: q.nextSeq})
}

// restore inserts an entry keeping its recorded ordering key.
func (q *localQueue) restore(t *task.Task, priority int, seq uint64) {
	if seq > q.nextSeq {
		q.nextSeq = seq
	}
	heap.Push(q, queued{task: t, priority: priority, seq: seq})
}

func (q *localQueue) pop() (*task.Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(q).(queued)
	return item.task, true
}

// ordered returns the entries in dequeue order without mutating the heap.
func (q *localQueue) ordered() []queued {
	cp := &localQueue{items: make([]queued, len(q.items))}
	copy(cp.items, q.items)
	out := make([]queued, 0, len(q.items))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(cp).(queued))
	}
	return out
}

func (q *localQueue) clear() {
	q.items = nil
	q.nextSeq = 0
}
