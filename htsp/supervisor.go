package htsp

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cyberjacob/android-htsp/auth"
	"github.com/cyberjacob/android-htsp/conn"
	"github.com/cyberjacob/android-htsp/dispatch"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/internal/notify"
	"github.com/cyberjacob/android-htsp/wire"
)

// Supervisor composes the dispatcher, authenticator, and connection
// engine into the single owning unit of spec §4.I. It owns reconnect:
// every CONNECTED→FAILED transition (while not stopped) is met with a
// fresh Engine after an exponential backoff with jitter, clamped to
// ReconnectBackoff's bounds and reset on the next successful CONNECTED.
type Supervisor struct {
	cfg  Config
	disp *dispatch.Dispatcher
	auth *auth.Authenticator

	mu       sync.Mutex
	engine   *conn.Engine
	stopping bool
	started  bool
	stopCh   chan struct{}

	// connListenerEntries is replayed onto every freshly constructed
	// Engine on reconnect, since a new Engine starts with an empty
	// notify.Registry of its own (spec §4.I: "listener registration APIs
	// that forward" — forwarding must survive a reconnect, not just the
	// first Engine).
	connListenerEntries []connListenerEntry
}

// New constructs a Supervisor. The dispatcher and authenticator are
// created once and reused across every reconnect; only the Engine
// underneath them is replaced (spec §4.E, §9: "intentional deviation"
// making sequence/outstanding-table state connection-scoped rather than
// process-global).
func New(cfg Config) *Supervisor {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		nlog.Errorf("htsp: %v; Start will keep failing to connect until this is fixed", err)
	}
	d := dispatch.New()
	creds := auth.Credentials{
		Username:      cfg.Username,
		Password:      cfg.Password,
		ClientName:    cfg.ClientName,
		ClientVersion: cfg.ClientVersion,
		HTSPVersion:   cfg.HTSPVersion,
	}
	a := auth.New(d, creds)
	a.HelloTimeout = time.Duration(cfg.ReplyTimeoutMs) * time.Millisecond
	a.AuthenticateTimeout = time.Duration(cfg.ReplyTimeoutMs) * time.Millisecond

	return &Supervisor{
		cfg:  cfg,
		disp: d,
		auth: a,
	}
}

// Dispatcher exposes the shared dispatcher, the collaborator a
// subscription.Subscriber is constructed against.
func (sv *Supervisor) Dispatcher() *dispatch.Dispatcher { return sv.disp }

// Authenticator exposes the shared authenticator for auth-state
// listener registration (e.g. by subscription.Subscriber).
func (sv *Supervisor) Authenticator() *auth.Authenticator { return sv.auth }

// AddConnectionListener forwards registration to whichever Engine is
// current, and remembers the listener so every future Engine gets it
// too (spec §4.I: "listener registration APIs that forward").
func (sv *Supervisor) AddConnectionListener(l conn.Listener, exec notify.Executor) {
	sv.mu.Lock()
	sv.connListenerEntries = append(sv.connListenerEntries, connListenerEntry{listener: l, exec: exec})
	e := sv.engine
	sv.mu.Unlock()
	if e != nil {
		e.AddConnectionListener(l, exec)
	}
}

func (sv *Supervisor) AddAuthListener(l auth.Listener, exec notify.Executor) {
	sv.auth.AddAuthListener(l, exec)
}

func (sv *Supervisor) RemoveAuthListener(l auth.Listener) {
	sv.auth.RemoveAuthListener(l)
}

func (sv *Supervisor) AddMessageListener(l dispatch.MessageListener, exec notify.Executor) {
	sv.disp.AddMessageListener(l, exec)
}

func (sv *Supervisor) RemoveMessageListener(l dispatch.MessageListener) {
	sv.disp.RemoveMessageListener(l)
}

// SendFireAndForget forwards to the shared dispatcher.
func (sv *Supervisor) SendFireAndForget(m *wire.Message) error {
	return sv.disp.SendFireAndForget(m)
}

// SendAwaitReply forwards to the shared dispatcher.
func (sv *Supervisor) SendAwaitReply(m *wire.Message, timeout time.Duration) (*wire.Message, error) {
	return sv.disp.SendAwaitReply(m, timeout)
}

// Start spawns the I/O thread running the first connection attempt
// (spec §4.I). Safe to call once; subsequent calls are no-ops.
func (sv *Supervisor) Start() {
	sv.mu.Lock()
	if sv.started {
		sv.mu.Unlock()
		return
	}
	sv.started = true
	sv.stopping = false
	sv.stopCh = make(chan struct{})
	sv.mu.Unlock()

	go sv.runLoop()
}

// Stop signals the current engine to close and suppresses further
// reconnect attempts (spec §4.I). Also wakes a Supervisor currently
// sleeping out a reconnect backoff interval.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	if sv.stopping {
		sv.mu.Unlock()
		return
	}
	sv.stopping = true
	e := sv.engine
	stopCh := sv.stopCh
	sv.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	if e != nil {
		e.CloseConnection()
	}
}

// IsClosed reports whether the current engine has reached a terminal
// state, or no engine has ever been constructed.
func (sv *Supervisor) IsClosed() bool {
	sv.mu.Lock()
	e := sv.engine
	sv.mu.Unlock()
	if e == nil {
		return true
	}
	return e.State().Terminal()
}

// runLoop constructs and runs a fresh Engine per attempt, applying
// backoff between attempts that end in FAILED, until Stop is called
// (spec §4.I).
func (sv *Supervisor) runLoop() {
	bo := newBackoff(sv.cfg.ReconnectBackoff)

	for {
		sv.mu.Lock()
		stopping, stopCh := sv.stopping, sv.stopCh
		sv.mu.Unlock()
		if stopping {
			return
		}

		e := sv.newEngine()

		sv.mu.Lock()
		sv.engine = e
		sv.mu.Unlock()

		e.AddConnectionListener(sv.auth, nil)
		e.AddConnectionListener(connListenerFunc(func(old, new conn.State) {
			if new == conn.CONNECTED {
				bo.Reset()
			}
		}), nil)
		for _, l := range sv.snapshotConnListenerEntries() {
			e.AddConnectionListener(l.listener, l.exec)
		}

		sv.disp.BindEngine(e)
		e.AddConnectionListener(sv.disp, nil)

		e.Start()
		<-e.Done()

		sv.mu.Lock()
		stopping = sv.stopping
		sv.mu.Unlock()
		if stopping {
			return
		}
		if e.State() != conn.FAILED {
			// CLOSED without an explicit Stop: nothing else requested
			// this, so there is nothing meaningful to reconnect to.
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			nlog.Errorf("htsp: reconnect backoff exhausted, giving up")
			return
		}
		nlog.Infof("htsp: reconnecting in %s", wait)
		select {
		case <-time.After(wait):
		case <-stopCh:
			return
		}
	}
}

func (sv *Supervisor) newEngine() *conn.Engine {
	rd := wire.NewReader()
	wr := wire.NewWriter(sv.disp.Queue())
	e := conn.New(sv.cfg.Hostname, sv.cfg.Port, rd, wr).
		WithConnectTimeout(time.Duration(sv.cfg.ConnectTimeoutMs) * time.Millisecond)
	return e
}

type connListenerEntry struct {
	listener conn.Listener
	exec     notify.Executor
}

// snapshotConnListenerEntries returns the user-registered connection
// listeners that should be attached to every new Engine on reconnect.
func (sv *Supervisor) snapshotConnListenerEntries() []connListenerEntry {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]connListenerEntry, len(sv.connListenerEntries))
	copy(out, sv.connListenerEntries)
	return out
}

type connListenerFunc func(old, new conn.State)

func (f connListenerFunc) OnConnectionStateChange(old, new conn.State) { f(old, new) }

// newBackoff builds a cenkalti/backoff ExponentialBackOff from the
// spec's {initialMs, maxMs, jitter} shape (spec §6, §4.I: "exponential
// with jitter, clamped").
func newBackoff(cfg ReconnectBackoff) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(cfg.InitialMs) * time.Millisecond
	eb.MaxInterval = time.Duration(cfg.MaxMs) * time.Millisecond
	eb.MaxElapsedTime = 0 // never give up on its own; the Supervisor owns Stop
	eb.RandomizationFactor = clampJitter(cfg.Jitter)
	eb.Reset()
	return eb
}

func clampJitter(j float64) float64 {
	if j < 0 {
		return 0
	}
	if j > 1 {
		return 1
	}
	if j == 0 {
		return backoff.DefaultRandomizationFactor
	}
	return j
}
