package conn

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cyberjacob/android-htsp/wire"
)

// pipeDialer hands back one end of an in-memory net.Pipe and keeps the
// other end for the test to drive directly, standing in for the real
// TCP socket (the Engine accepts a Dialer-shaped collaborator through
// WithDialer in this Go translation; production uses net.Dialer).
type pipeDialer struct {
	peer net.Conn
	err  error
}

func (d *pipeDialer) DialContext(string, string) (net.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	d.peer = server
	return client, nil
}

type recordingListener struct {
	ch chan State
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ch: make(chan State, 16)}
}

func (l *recordingListener) OnConnectionStateChange(_, new State) {
	l.ch <- new
}

func mustReceive(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("state = %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for state %s", want)
	}
}

func newTestEngine(t *testing.T) (*Engine, *pipeDialer) {
	t.Helper()
	d := &pipeDialer{}
	q := newFIFO()
	rd := wire.NewReader()
	wr := wire.NewWriter(q)
	e := New("example.invalid", 9982, rd, wr).WithDialer(d)
	return e, d
}

// fifo is a minimal wire.Queue used where the test doesn't care about
// dispatcher internals.
type fifo struct{ items []*wire.Message }

func newFIFO() *fifo { return &fifo{} }

func (q *fifo) Enqueue(m *wire.Message) { q.items = append(q.items, m) }
func (q *fifo) Dequeue() (*wire.Message, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}
func (q *fifo) Len() int { return len(q.items) }

func TestEngineConnectsAndTransitionsToConnected(t *testing.T) {
	e, _ := newTestEngine(t)
	l := newRecordingListener()
	e.AddConnectionListener(l, nil)
	e.Start()
	defer e.CloseConnection()

	mustReceive(t, l.ch, CONNECTING)
	mustReceive(t, l.ch, CONNECTED)
}

func TestEngineDeliversDecodedMessages(t *testing.T) {
	e, d := newTestEngine(t)
	received := make(chan *wire.Message, 1)
	e.SetOnMessage(func(m *wire.Message) { received <- m })
	l := newRecordingListener()
	e.AddConnectionListener(l, nil)
	e.Start()
	defer e.CloseConnection()

	// Wait for connect before writing from the "server" side.
	mustReceive(t, l.ch, CONNECTING)
	mustReceive(t, l.ch, CONNECTED)

	frame := wire.Encode(wire.New().SetMethod("hello"))
	go d.peer.Write(frame)

	select {
	case m := <-received:
		if m.Method() != "hello" {
			t.Fatalf("method = %q", m.Method())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestCloseConnectionReachesClosedNotFailed(t *testing.T) {
	e, _ := newTestEngine(t)
	l := newRecordingListener()
	e.AddConnectionListener(l, nil)
	e.Start()

	mustReceive(t, l.ch, CONNECTING)
	mustReceive(t, l.ch, CONNECTED)

	e.CloseConnection()
	mustReceive(t, l.ch, CLOSING)
	mustReceive(t, l.ch, CLOSED)

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not finish tearing down")
	}
	if e.State() != CLOSED {
		t.Fatalf("final state = %s, want CLOSED", e.State())
	}
}

func TestPeerCloseReachesFailed(t *testing.T) {
	e, d := newTestEngine(t)
	l := newRecordingListener()
	e.AddConnectionListener(l, nil)
	e.Start()
	defer e.CloseConnection()

	mustReceive(t, l.ch, CONNECTING)
	mustReceive(t, l.ch, CONNECTED)

	d.peer.Close()

	mustReceive(t, l.ch, FAILED)
}

func TestDialFailureReachesFailed(t *testing.T) {
	d := &pipeDialer{err: errors.New("boom")}
	q := newFIFO()
	e := New("example.invalid", 9982, wire.NewReader(), wire.NewWriter(q)).WithDialer(d)
	l := newRecordingListener()
	e.AddConnectionListener(l, nil)
	e.Start()

	mustReceive(t, l.ch, CONNECTING)
	mustReceive(t, l.ch, FAILED)
}

func TestCloseConnectionIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Start()
	<-time.After(50 * time.Millisecond)
	e.CloseConnection()
	e.CloseConnection() // must not panic or deadlock
	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not finish tearing down")
	}
}
