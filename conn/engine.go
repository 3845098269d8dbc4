package conn

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberjacob/android-htsp/internal/herr"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/internal/notify"
	"github.com/cyberjacob/android-htsp/wire"
)

// Listener observes connection lifecycle transitions.
type Listener interface {
	OnConnectionStateChange(old, new State)
}

// Dialer abstracts the outbound TCP dial so tests can substitute an
// in-memory pipe; production code uses net.Dialer (the teacher's own
// choice for outbound connections elsewhere in the pack).
type Dialer interface {
	DialContext(network, address string) (net.Conn, error)
}

// netDialer adapts net.Dialer to Dialer.
type netDialer struct {
	timeout time.Duration
}

func (d netDialer) DialContext(network, address string) (net.Conn, error) {
	return net.DialTimeout(network, address, d.timeout)
}

const readBufSize = 64 * 1024

// Engine is the non-blocking, readiness-driven TCP loop of spec §4.E,
// expressed in Go as a read goroutine and a write goroutine coordinated
// through a state machine guarded by a mutex. Constructor inputs match
// the spec exactly: host, port, reader, writer.
type Engine struct {
	host string
	port int
	rd   *wire.Reader
	wr   *wire.Writer

	dialer         Dialer
	connectTimeout time.Duration

	onMessage func(*wire.Message)

	mu        sync.Mutex
	state     State
	sock      net.Conn
	closing   bool
	listeners *notify.Registry[Listener]

	writePending chan struct{}
	done         chan struct{}
	startOnce    sync.Once
}

// New constructs an Engine for one connection attempt. A fresh Engine
// (with fresh Reader/Writer) must be constructed for every reconnect —
// this mirrors spec §4.E's note that FAILED/CLOSED are terminal "for
// this run" and the supervisor "constructs a new engine to reconnect."
func New(host string, port int, rd *wire.Reader, wr *wire.Writer) *Engine {
	return &Engine{
		host:           host,
		port:           port,
		rd:             rd,
		wr:             wr,
		dialer:         netDialer{timeout: 5 * time.Second},
		connectTimeout: 5 * time.Second,
		listeners:      notify.New[Listener]("connection listener"),
		writePending:   make(chan struct{}, 1),
		done:           make(chan struct{}),
		state:          CLOSED,
	}
}

// WithDialer overrides the Dialer (tests only).
func (e *Engine) WithDialer(d Dialer) *Engine {
	e.dialer = d
	return e
}

// WithConnectTimeout overrides the dial timeout.
func (e *Engine) WithConnectTimeout(d time.Duration) *Engine {
	e.connectTimeout = d
	if nd, ok := e.dialer.(netDialer); ok {
		nd.timeout = d
		e.dialer = nd
	}
	return e
}

// SetOnMessage registers the callback the engine delivers decoded
// messages to (the dispatcher's OnMessage, spec §4.F). Must be called
// before Start.
func (e *Engine) SetOnMessage(fn func(*wire.Message)) { e.onMessage = fn }

func (e *Engine) AddConnectionListener(l Listener, exec notify.Executor) {
	e.listeners.Add(l, exec)
}

func (e *Engine) RemoveConnectionListener(l Listener) {
	e.listeners.Remove(l)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the engine has reached a terminal state and fully
// torn down (socket closed, final notification delivered).
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) setState(s State) {
	e.mu.Lock()
	old := e.state
	e.state = s
	e.mu.Unlock()
	if old == s {
		return
	}
	nlog.Infof("conn: %s -> %s", old, s)
	e.listeners.Dispatch(func(l Listener) { l.OnConnectionStateChange(old, s) })
}

// Start launches the I/O goroutines. Safe to call once per Engine.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

func (e *Engine) run() {
	defer close(e.done)

	e.setState(CONNECTING)

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	sock, err := e.dialer.DialContext("tcp", addr)
	if err != nil {
		e.finish(nil, classifyDialErr(e.host, err))
		return
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		sock.Close()
		e.finish(nil, nil)
		return
	}
	e.sock = sock
	e.mu.Unlock()

	e.setState(CONNECTED)

	var wg sync.WaitGroup
	stopWrite := make(chan struct{})
	wg.Add(1)
	go e.writeLoop(sock, stopWrite, &wg)

	readErr := e.readLoop(sock)

	close(stopWrite) // a closed channel is immediately selectable, no separate wake needed
	wg.Wait()

	e.finish(sock, readErr)
}

// finish performs the single, final state transition and socket
// teardown for this run: CLOSED if CloseConnection was requested,
// FAILED otherwise (spec §4.E state diagram).
func (e *Engine) finish(sock net.Conn, cause error) {
	if sock == nil {
		e.mu.Lock()
		sock = e.sock
		e.mu.Unlock()
	}
	if sock != nil {
		sock.Close()
	}

	e.mu.Lock()
	closing := e.closing
	e.mu.Unlock()

	if closing {
		e.setState(CLOSED)
		return
	}
	if cause != nil {
		nlog.Errorf("conn: failed: %v", cause)
	}
	e.setState(FAILED)
}

func classifyDialErr(host string, err error) error {
	if dnsErr, ok := err.(*net.DNSError); ok {
		return herr.WrapUnresolvedAddress(host, dnsErr)
	}
	return herr.WrapIo(err)
}

func (e *Engine) readLoop(sock net.Conn) error {
	buf := make([]byte, readBufSize)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			msgs, ferr := e.rd.Feed(buf[:n])
			for _, m := range msgs {
				e.deliver(m)
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				if e.rd.Pending() > 0 {
					return herr.NewErrMalformed("peer closed connection mid-frame")
				}
				return io.EOF
			}
			return herr.WrapIo(err)
		}
	}
}

func (e *Engine) deliver(m *wire.Message) {
	if e.onMessage == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			nlog.Errorf("conn: onMessage panicked: %v", p)
		}
	}()
	e.onMessage(m)
}

func (e *Engine) writeLoop(sock net.Conn, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-e.writePending:
		}
		for e.wr.HasPendingData() {
			select {
			case <-stop:
				return
			default:
			}
			if err := e.wr.Flush(sock); err != nil {
				nlog.Errorf("conn: write failed: %v", err)
				sock.Close() // unblocks readLoop so the engine can finalize
				return
			}
		}
	}
}

// SetWritePending arms write interest and wakes the write goroutine;
// safe to call from any goroutine (spec §4.E point 5). A full channel
// means a wake is already pending, which is sufficient.
func (e *Engine) SetWritePending() {
	select {
	case e.writePending <- struct{}{}:
	default:
	}
}

// CloseConnection requests an orderly shutdown: CONNECTED/CONNECTING ->
// CLOSING -> CLOSED. Idempotent.
func (e *Engine) CloseConnection() {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.closing = true
	sock := e.sock
	state := e.state
	e.mu.Unlock()

	if state == CLOSED || state == FAILED {
		return
	}
	e.setState(CLOSING)
	if sock != nil {
		sock.Close() // unblocks the read goroutine
	}
	// If dialing hasn't completed yet, run() notices e.closing once
	// DialContext returns and finalizes without ever reaching CONNECTED.
}
