package loader

import (
	"context"
	"errors"
	"sync"
)

var (
	errQueueDone      = errors.New("queue: producers finished")
	errQueueCancelled = errors.New("queue: cancelled")
)

// item is one completed slot: either a batch or the error that replaced it.
type item struct {
	batch *Batch
	err   error
}

func (it item) release() {
	if it.batch != nil {
		it.batch.Release()
	}
}

// queue is the bounded completion queue between workers and the consumer.
// It never holds more than cap(buf) items; push blocks while full and pop
// blocks while empty until producers finish or the queue is cancelled.
type queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf  []item
	head int
	n    int

	done      bool
	cancelled bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &queue{buf: make([]item, capacity)}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// wake broadcasts both conditions when ctx ends so waiters can observe it.
func (q *queue) wake(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
}

// push appends it, waiting for room. It reports false if the queue was
// cancelled or ctx ended first; the caller still owns it in that case.
func (q *queue) push(ctx context.Context, it item) bool {
	stop := q.wake(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.n == len(q.buf) && !q.cancelled && ctx.Err() == nil {
		q.notFull.Wait()
	}
	if q.cancelled || q.done || ctx.Err() != nil {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = it
	q.n++
	q.notEmpty.Signal()
	return true
}

// pop removes the oldest item, waiting while the queue is empty and
// producers are still running.
func (q *queue) pop(ctx context.Context) (item, error) {
	stop := q.wake(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		switch {
		case q.cancelled:
			return item{}, errQueueCancelled
		case q.n > 0:
			it := q.buf[q.head]
			q.buf[q.head] = item{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.notFull.Signal()
			return it, nil
		case q.done:
			return item{}, errQueueDone
		case ctx.Err() != nil:
			return item{}, ctx.Err()
		}
		q.notEmpty.Wait()
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *queue) capacity() int { return len(q.buf) }

// finish marks that no more pushes will come. Buffered items stay poppable.
func (q *queue) finish() {
	q.mu.Lock()
	q.done = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// cancel wakes every waiter, refuses further traffic and hands back the
// buffered items so the caller can release them.
func (q *queue) cancel() []item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = true
	left := make([]item, 0, q.n)
	for q.n > 0 {
		left = append(left, q.buf[q.head])
		q.buf[q.head] = item{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
	}
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	return left
}
