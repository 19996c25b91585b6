package trigger

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue for tests and single-process runs.
// Nacked messages rejoin the back of the queue once their backoff elapses
// and are dead-lettered when Retry is exhausted.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []memoryItem
	dead     [][]byte
	inflight int
	seq      int
	wake     chan struct{}
	Wait     time.Duration
	Retry    RetryPolicy

	now func() time.Time
}

type memoryItem struct {
	id       string
	body     []byte
	attempts int
	due      time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		wake:  make(chan struct{}, 1),
		Wait:  time.Second,
		Retry: DefaultRetryPolicy(),
		now:   time.Now,
	}
}

func (q *MemoryQueue) Publish(_ context.Context, body []byte) error {
	q.mu.Lock()
	q.seq++
	q.items = append(q.items, memoryItem{id: strconv.Itoa(q.seq), body: append([]byte(nil), body...)})
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) ([]*Delivery, error) {
	timer := time.NewTimer(q.Wait)
	defer timer.Stop()
	for {
		d, next := q.pop()
		if d != nil {
			return []*Delivery{d}, nil
		}
		var due <-chan time.Time
		if !next.IsZero() {
			due = time.After(next.Sub(q.now()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return []*Delivery{}, nil
		case <-q.wake:
		case <-due:
		}
	}
}

// Len reports queued, delayed and unsettled messages. Dead letters are not
// counted.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inflight
}

// Dead returns the bodies of dead-lettered messages.
func (q *MemoryQueue) Dead() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.dead...)
}

// pop takes the first due item. When none is due it returns the earliest
// due time of the delayed ones, or zero.
func (q *MemoryQueue) pop() (*Delivery, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var next time.Time
	for i, item := range q.items {
		if item.due.After(now) {
			if next.IsZero() || item.due.Before(next) {
				next = item.due
			}
			continue
		}
		q.items = append(q.items[:i:i], q.items[i+1:]...)
		item.attempts++
		q.inflight++
		return q.delivery(item), time.Time{}
	}
	return nil, next
}

func (q *MemoryQueue) delivery(item memoryItem) *Delivery {
	return newDelivery(item.id, item.body, item.attempts,
		func(context.Context) error {
			q.mu.Lock()
			q.inflight--
			q.mu.Unlock()
			return nil
		},
		func(context.Context) error {
			q.mu.Lock()
			q.inflight--
			if q.Retry.Exhausted(item.attempts) {
				q.dead = append(q.dead, item.body)
				q.mu.Unlock()
				return nil
			}
			item.due = q.now().Add(q.Retry.Delay(item.attempts))
			q.items = append(q.items, item)
			q.mu.Unlock()
			q.signal()
			return nil
		},
	)
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

var _ Queue = (*MemoryQueue)(nil)
