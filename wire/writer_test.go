package wire

import "testing"

// sliceQueue is a trivial FIFO used only by tests; the dispatch package
// supplies the real send queue (spec §4.F) in production.
type sliceQueue struct {
	items []*Message
}

func (q *sliceQueue) Enqueue(m *Message) { q.items = append(q.items, m) }

func (q *sliceQueue) Dequeue() (*Message, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *sliceQueue) Len() int { return len(q.items) }

// shortWriter accepts at most max bytes per Write call, simulating a
// non-blocking socket that only has room in its send buffer for part of
// what was offered (spec §4.D, scenario 5 in §8).
type shortWriter struct {
	max int
	buf []byte
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.max {
		n = w.max
	}
	w.buf = append(w.buf, p[:n]...)
	return n, nil
}

func TestWriterHasPendingDataReflectsQueueAndBuffer(t *testing.T) {
	q := &sliceQueue{}
	w := NewWriter(q)

	if w.HasPendingData() {
		t.Fatal("HasPendingData() true on an empty writer")
	}
	q.Enqueue(New().SetMethod("hello"))
	if !w.HasPendingData() {
		t.Fatal("HasPendingData() false with a queued message")
	}
}

func TestWriterFlushHonorsShortWritesInOrder(t *testing.T) {
	q := &sliceQueue{}
	w := NewWriter(q)
	q.Enqueue(New().SetMethod("one"))
	q.Enqueue(New().SetMethod("two"))
	q.Enqueue(New().SetMethod("three"))

	sock := &shortWriter{max: 5}
	for i := 0; i < 64 && w.HasPendingData(); i++ {
		if err := w.Flush(sock); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if w.HasPendingData() {
		t.Fatal("HasPendingData() still true after draining the queue")
	}

	r := NewReader()
	msgs, err := r.Feed(sock.buf)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d reassembled messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Method() != want {
			t.Errorf("msgs[%d] = %q, want %q (order must be preserved)", i, msgs[i].Method(), want)
		}
	}
}
