package wire

import "io"

// Queue is the FIFO of outgoing Messages the Writer drains (spec §4.D:
// "reference to the send queue"). The dispatcher owns the concrete
// implementation (its send queue, spec §4.F); Writer only needs to pop
// from it.
type Queue interface {
	Dequeue() (*Message, bool)
	Len() int
}

// Writer serializes queued messages and drains them to a socket-shaped
// io.Writer under write-readiness (spec §4.D). It never blocks waiting
// for data: if there is nothing pending and the queue is empty, Flush
// is a no-op.
type Writer struct {
	queue   Queue
	pending []byte
	off     int
}

func NewWriter(queue Queue) *Writer {
	return &Writer{queue: queue}
}

// HasPendingData is true iff there are bytes still being drained to the
// socket, or a queued message waiting to be serialized. The connection
// engine uses this to decide whether to keep WRITE interest armed.
func (w *Writer) HasPendingData() bool {
	return w.off < len(w.pending) || w.queue.Len() > 0
}

// Flush writes as much of the pending bytes as sock will currently
// accept. A short write (n < len(remaining), err == nil) is honored
// exactly as a non-blocking socket would produce one: the remainder is
// retained for the next write-readiness event, never reordered or
// interleaved with the next message (spec §4.D ordering guarantee).
func (w *Writer) Flush(sock io.Writer) error {
	if w.off >= len(w.pending) {
		msg, ok := w.queue.Dequeue()
		if !ok {
			return nil
		}
		w.pending = Encode(msg)
		w.off = 0
	}

	n, err := sock.Write(w.pending[w.off:])
	w.off += n
	if w.off >= len(w.pending) {
		w.pending = nil
		w.off = 0
	}
	return err
}
