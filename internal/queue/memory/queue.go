// Package memory provides the in-process FIFO of page tasks used by a crawl run.
package memory

import (
	"sync"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// Queue is an unbounded FIFO of page tasks. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []crawler.PageTask
	head  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends tasks in order.
func (q *Queue) Push(tasks ...crawler.PageTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, tasks...)
}

// Pop removes and returns the oldest task. ok is false when the queue is empty.
func (q *Queue) Pop() (crawler.PageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return crawler.PageTask{}, false
	}
	task := q.items[q.head]
	q.items[q.head] = crawler.PageTask{}
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append([]crawler.PageTask(nil), q.items[q.head:]...)
		q.head = 0
	}
	return task, true
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
