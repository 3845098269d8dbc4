// Package dispatch implements the HTSP dispatcher (spec §4.F): sequence
// allocation, request/response correlation via an outstanding-request
// table, fan-out to message listeners, and synchronous-over-asynchronous
// send_await_reply. Grounded on the mini-rpc ClientTransport pattern
// (per-seq pending slot populated by a recv path, read by a blocked
// caller) and, for the "connection-scoped rather than process-global"
// sequence counter and table (spec §9 Design Notes), on go.uber.org/atomic
// for the counter itself.
package dispatch

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/cyberjacob/android-htsp/conn"
	"github.com/cyberjacob/android-htsp/internal/herr"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/internal/notify"
	"github.com/cyberjacob/android-htsp/wire"
)

// MessageListener observes every message the dispatcher hands off after
// response-method restoration: replies, async events, everything.
type MessageListener interface {
	OnMessage(m *wire.Message)
}

// engineHandle is the slice of *conn.Engine the dispatcher needs. Kept
// as an interface so tests can substitute a stub without a real socket.
type engineHandle interface {
	State() conn.State
	SetWritePending()
}

type pending struct {
	method string
	rendez chan rendezResult // nil for fire-and-forget entries
}

type rendezResult struct {
	msg *wire.Message
	err error
}

// Dispatcher correlates requests to replies and fans out incoming
// messages to registered listeners (spec §4.F). One Dispatcher is
// reused across reconnects; only the Engine underneath it is replaced,
// which is why the sequence counter and outstanding table are instance
// state here rather than the teacher's process-global statics (spec §9,
// "intentional deviation").
type Dispatcher struct {
	seq   atomic.Int64
	queue *sendQueue

	mu          sync.Mutex
	outstanding map[int64]*pending

	listeners *notify.Registry[MessageListener]

	engineMu sync.RWMutex
	engine   engineHandle
}

func New() *Dispatcher {
	return &Dispatcher{
		queue:       newSendQueue(),
		outstanding: make(map[int64]*pending),
		listeners:   notify.New[MessageListener]("message listener"),
	}
}

// Queue exposes the send queue for the Writer the supervisor wires up
// for each connection attempt (spec §4.D: "reference to the send queue").
func (d *Dispatcher) Queue() wire.Queue {
	return d.queue
}

// BindEngine attaches the Dispatcher to the Engine for the current
// connection attempt. Call once per reconnect, before Engine.Start.
func (d *Dispatcher) BindEngine(e *conn.Engine) {
	d.engineMu.Lock()
	d.engine = e
	d.engineMu.Unlock()
	e.SetOnMessage(d.OnMessage)
}

func (d *Dispatcher) currentEngine() engineHandle {
	d.engineMu.RLock()
	defer d.engineMu.RUnlock()
	return d.engine
}

func (d *Dispatcher) AddMessageListener(l MessageListener, exec notify.Executor) {
	d.listeners.Add(l, exec)
}

func (d *Dispatcher) RemoveMessageListener(l MessageListener) {
	d.listeners.Remove(l)
}

func (d *Dispatcher) nextSeq() int64 { return d.seq.Inc() }

func (d *Dispatcher) assignSeq(m *wire.Message) int64 {
	if m.Has("seq") {
		return m.Seq()
	}
	s := d.nextSeq()
	m.SetInt64("seq", s)
	return s
}

// SendFireAndForget assigns seq (if absent), records seq->method for
// later response-method restoration, enqueues m, and wakes the writer.
// Returns ErrNotConnected without enqueuing if the engine is not
// CONNECTED (spec §4.F).
func (d *Dispatcher) SendFireAndForget(m *wire.Message) error {
	e := d.currentEngine()
	if e == nil || e.State() != conn.CONNECTED {
		return herr.NewErrNotConnected(m.Method())
	}

	seq := d.assignSeq(m)
	if method := m.Method(); method != "" {
		d.mu.Lock()
		d.outstanding[seq] = &pending{method: method}
		d.mu.Unlock()
	}
	d.queue.Enqueue(m)
	e.SetWritePending()
	return nil
}

// SendAwaitReply is SendFireAndForget plus a rendezvous: it blocks the
// caller until a reply with the same seq arrives, the engine stops being
// CONNECTED, or timeout elapses. Must never be called from the engine's
// own I/O goroutine (spec §5) — doing so would deadlock, since that
// goroutine is the one that would deliver the reply.
func (d *Dispatcher) SendAwaitReply(m *wire.Message, timeout time.Duration) (*wire.Message, error) {
	e := d.currentEngine()
	if e == nil || e.State() != conn.CONNECTED {
		return nil, herr.NewErrNotConnected(m.Method())
	}

	seq := d.assignSeq(m)
	rendez := make(chan rendezResult, 1)
	d.mu.Lock()
	d.outstanding[seq] = &pending{method: m.Method(), rendez: rendez}
	d.mu.Unlock()

	d.queue.Enqueue(m)
	e.SetWritePending()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-rendez:
		return res.msg, res.err
	case <-timer.C:
		d.mu.Lock()
		delete(d.outstanding, seq)
		d.mu.Unlock()
		return nil, herr.NewErrTimeout(seq)
	}
}

// OnMessage is the engine's delivery callback (spec §4.F). If seq is
// present and known, it restores method on the reply from the
// outstanding-request table, erases the entry, and wakes any rendezvous
// waiter — all before fanning out to message listeners, per the spec's
// ordering invariant.
func (d *Dispatcher) OnMessage(m *wire.Message) {
	if m.Has("seq") {
		seq := m.Seq()
		d.mu.Lock()
		p, ok := d.outstanding[seq]
		if ok {
			delete(d.outstanding, seq)
		}
		d.mu.Unlock()

		if ok {
			if !m.Has("method") && p.method != "" {
				m.SetMethod(p.method)
			}
			if p.rendez != nil {
				p.rendez <- rendezResult{msg: m}
			}
		}
	}

	d.listeners.Dispatch(func(l MessageListener) { l.OnMessage(m) })
}

// OnConnectionStateChange implements conn.Listener. On any transition
// into CLOSED or FAILED, the send queue and outstanding-request table
// are cleared and every pending rendezvous is woken with NotConnected
// (spec §4.F, §8 testable property on bounded-time resolution).
func (d *Dispatcher) OnConnectionStateChange(_, new conn.State) {
	if new != conn.CLOSED && new != conn.FAILED {
		return
	}

	d.queue.Clear()

	d.mu.Lock()
	stale := d.outstanding
	d.outstanding = make(map[int64]*pending)
	d.mu.Unlock()

	for seq, p := range stale {
		if p.rendez != nil {
			select {
			case p.rendez <- rendezResult{err: herr.NewErrNotConnected(p.method)}:
			default:
			}
		} else {
			nlog.Infof("dispatch: dropping outstanding fire-and-forget entry seq=%d method=%s on %s", seq, p.method, new)
		}
	}
}
