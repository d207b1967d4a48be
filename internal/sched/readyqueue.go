// internal/sched/readyqueue.go

package sched

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// ReadyQueue holds runnable tasks in strict FIFO order.
type ReadyQueue struct {
	q *linkedlistqueue.Queue
}

// NewReadyQueue returns an empty queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{q: linkedlistqueue.New()}
}

// Push appends t at the tail.
func (rq *ReadyQueue) Push(t *Task) {
	rq.q.Enqueue(t)
}

// Fetch removes and returns the head task. ok is false when the queue is empty.
func (rq *ReadyQueue) Fetch() (t *Task, ok bool) {
	v, ok := rq.q.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}

func (rq *ReadyQueue) Len() int { return rq.q.Size() }

// IDs lists the queued task IDs head first.
func (rq *ReadyQueue) IDs() []TaskID {
	vals := rq.q.Values()
	ids := make([]TaskID, 0, len(vals))
	for _, v := range vals {
		ids = append(ids, v.(*Task).ID)
	}
	return ids
}
