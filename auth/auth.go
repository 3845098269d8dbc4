// Package auth implements the HTSP authenticator (spec §4.G): the
// hello/authenticate challenge-response handshake that gates
// higher-level use of a connection, driven as a connection-state
// listener. Grounded on the teacher's authn.go (cmn/authn.go) for the
// shape of an auth-state machine with a FAILED terminal state, and on
// the dispatcher's SendAwaitReply for the request/reply mechanics.
package auth

import (
	"crypto/sha1"
	"sync"
	"time"

	"github.com/cyberjacob/android-htsp/conn"
	"github.com/cyberjacob/android-htsp/dispatch"
	"github.com/cyberjacob/android-htsp/internal/herr"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/internal/notify"
	"github.com/cyberjacob/android-htsp/wire"
)

// State is one of {IDLE, AUTHENTICATING, AUTHENTICATED, FAILED} (spec §3).
type State int

const (
	IDLE State = iota
	AUTHENTICATING
	AUTHENTICATED
	FAILED
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case AUTHENTICATING:
		return "AUTHENTICATING"
	case AUTHENTICATED:
		return "AUTHENTICATED"
	case FAILED:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Listener observes auth-state transitions.
type Listener interface {
	OnAuthStateChange(old, new State)
}

// Credentials bundle the fields the hello/authenticate exchange sends.
type Credentials struct {
	Username      string
	Password      string
	ClientName    string
	ClientVersion string
	HTSPVersion   int64
}

// Authenticator drives the handshake described in spec §4.G. It is
// registered as a conn.Listener; on every CONNECTED transition it runs
// the handshake in its own goroutine (dispatcher.SendAwaitReply must
// never be called from the I/O goroutine itself, spec §5).
type Authenticator struct {
	dispatcher *dispatch.Dispatcher
	creds      Credentials

	HelloTimeout        time.Duration
	AuthenticateTimeout time.Duration

	mu        sync.Mutex
	state     State
	listeners *notify.Registry[Listener]
}

func New(d *dispatch.Dispatcher, creds Credentials) *Authenticator {
	return &Authenticator{
		dispatcher:          d,
		creds:               creds,
		HelloTimeout:        5 * time.Second,
		AuthenticateTimeout: 5 * time.Second,
		listeners:           notify.New[Listener]("auth-state listener"),
	}
}

func (a *Authenticator) AddAuthListener(l Listener, exec notify.Executor) {
	a.listeners.Add(l, exec)
}

func (a *Authenticator) RemoveAuthListener(l Listener) {
	a.listeners.Remove(l)
}

func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	old := a.state
	a.state = s
	a.mu.Unlock()
	if old == s {
		return
	}
	nlog.Infof("auth: %s -> %s", old, s)
	a.listeners.Dispatch(func(l Listener) { l.OnAuthStateChange(old, s) })
}

// OnConnectionStateChange implements conn.Listener. CONNECTED kicks off
// the handshake; CLOSED resets to IDLE (spec §4.G, §3: "Reset to IDLE on
// every CLOSED transition"). FAILED is treated the same way here since
// it equally ends the connection's ability to ever complete a pending
// handshake.
func (a *Authenticator) OnConnectionStateChange(_, new conn.State) {
	switch new {
	case conn.CONNECTED:
		go a.handshake()
	case conn.CLOSED, conn.FAILED:
		a.setState(IDLE)
	}
}

func (a *Authenticator) handshake() {
	a.setState(AUTHENTICATING)

	hello := wire.New().
		SetMethod("hello").
		SetInt64("htspversion", a.creds.HTSPVersion).
		SetString("clientname", a.creds.ClientName).
		SetString("clientversion", a.creds.ClientVersion)

	reply, err := a.dispatcher.SendAwaitReply(hello, a.HelloTimeout)
	if err != nil {
		nlog.Warningf("auth: hello failed: %v", err)
		a.setState(FAILED)
		return
	}

	challenge := reply.Bytes("challenge")
	digest := Digest(a.creds.Password, challenge)

	authenticate := wire.New().
		SetMethod("authenticate").
		SetString("username", a.creds.Username).
		SetBytes("digest", digest)

	authReply, err := a.dispatcher.SendAwaitReply(authenticate, a.AuthenticateTimeout)
	if err != nil {
		nlog.Warningf("auth: authenticate failed: %v", err)
		a.setState(FAILED)
		return
	}

	if authReply.Int64("noaccess", 0) != 0 {
		nlog.Warningf("auth: %v", herr.NewErrAuthFailed("server reported noaccess for user "+a.creds.Username))
		a.setState(FAILED)
		return
	}

	a.setState(AUTHENTICATED)
}

// Digest computes the HTSP challenge-response digest: SHA1(password ∥
// challenge) (spec §4.G, scenario 2 in §8).
func Digest(password string, challenge []byte) []byte {
	h := sha1.New()
	h.Write([]byte(password))
	h.Write(challenge)
	return h.Sum(nil)
}
