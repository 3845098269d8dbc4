package dispatch

import (
	"sync"

	"github.com/cyberjacob/android-htsp/wire"
)

// sendQueue is the FIFO of spec §4.F: "Thread-safe: multiple producers,
// single consumer (the I/O loop)." It satisfies wire.Queue so the
// connection engine's Writer can drain it directly.
type sendQueue struct {
	mu    sync.Mutex
	items []*wire.Message
}

func newSendQueue() *sendQueue { return &sendQueue{} }

func (q *sendQueue) Enqueue(m *wire.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

func (q *sendQueue) Dequeue() (*wire.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue, e.g. on a CLOSED transition (spec §4.F).
func (q *sendQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
