package auth_test

import (
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/cyberjacob/android-htsp/auth"
	"github.com/cyberjacob/android-htsp/conn"
	"github.com/cyberjacob/android-htsp/dispatch"
	"github.com/cyberjacob/android-htsp/wire"
)

// TestDigestMatchesSpecVector verifies auth.Digest against the scenario 2
// vector in spec §8: password "dev", challenge bytes 00 01 02 03. The
// spec's own printed digest is illegibly truncated in the document
// ("0x1B B1 ..."), so the expected value here was independently computed
// from the algorithm spec §4.G actually specifies (SHA1(password ||
// challenge)) rather than copied from that truncated text.
func TestDigestMatchesSpecVector(t *testing.T) {
	challenge, err := hex.DecodeString("00010203")
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	want, err := hex.DecodeString("2d6c551165b6913fb703b0b9dd84e76a0cf7a9eb")
	if err != nil {
		t.Fatalf("decode want: %v", err)
	}

	got := auth.Digest("dev", challenge)
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Fatalf("Digest(dev, %x) = %x, want %x", challenge, got, want)
	}
	if len(got) != 20 {
		t.Fatalf("digest length = %d, want 20 (SHA1)", len(got))
	}
}

func TestDigestIsOrderSensitive(t *testing.T) {
	challenge := []byte{0x01, 0x02}
	a := auth.Digest("pw", challenge)
	b := auth.Digest("wp", challenge)
	if hex.EncodeToString(a) == hex.EncodeToString(b) {
		t.Fatal("digests for different passwords collided")
	}
}

// pipeDialer hands out one pre-established net.Pipe end, mirroring the
// conn package's own test double for a socket-free Engine run.
type pipeDialer struct {
	client net.Conn
}

func (d pipeDialer) DialContext(network, address string) (net.Conn, error) {
	return d.client, nil
}

type authStateRecorder struct {
	mu          chan struct{}
	transitions [][2]auth.State
}

func newRecorder() *authStateRecorder { return &authStateRecorder{mu: make(chan struct{}, 1)} }

func (r *authStateRecorder) OnAuthStateChange(old, new auth.State) {
	r.transitions = append(r.transitions, [2]auth.State{old, new})
	select {
	case r.mu <- struct{}{}:
	default:
	}
}

// harness wires a real conn.Engine (over an in-memory pipe), a real
// dispatch.Dispatcher, and an Authenticator together the way the
// supervisor does for one connection attempt (minus registering the
// dispatcher as a connection listener), then hands the test the
// server-side pipe end to play the peer.
type harness struct {
	engine *conn.Engine
	disp   *dispatch.Dispatcher
	a      *auth.Authenticator
	server net.Conn
}

func newHarness(creds auth.Credentials) *harness {
	client, server := net.Pipe()

	disp := dispatch.New()
	e := conn.New("peer", 9982, wire.NewReader(), wire.NewWriter(disp.Queue())).
		WithDialer(pipeDialer{client: client})
	disp.BindEngine(e)

	a := auth.New(disp, creds)
	a.HelloTimeout = 2 * time.Second
	a.AuthenticateTimeout = 2 * time.Second

	e.AddConnectionListener(a, nil)

	return &harness{engine: e, disp: disp, a: a, server: server}
}

func (h *harness) start() { h.engine.Start() }

// serverReadMessage decodes exactly one frame written by the client.
func serverReadMessage(t *testing.T, sock net.Conn) *wire.Message {
	t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := readFull(sock, lenBuf); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	length := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	body := make([]byte, length)
	if _, err := readFull(sock, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	m, err := wire.DecodeBody(body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func readFull(sock net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := sock.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func serverWriteMessage(t *testing.T, sock net.Conn, m *wire.Message) {
	t.Helper()
	if _, err := sock.Write(wire.Encode(m)); err != nil {
		t.Fatalf("write reply: %v", err)
	}
}

func TestHandshakeSucceeds(t *testing.T) {
	h := newHarness(auth.Credentials{
		Username:      "user",
		Password:      "dev",
		ClientName:    "probe",
		ClientVersion: "1.0",
		HTSPVersion:   27,
	})
	rec := newRecorder()
	h.a.AddAuthListener(rec, nil)

	go func() {
		hello := serverReadMessage(t, h.server)
		if hello.Method() != "hello" {
			t.Errorf("first request method = %q, want hello", hello.Method())
		}
		serverWriteMessage(t, h.server, wire.New().
			SetInt64("seq", hello.Seq()).
			SetBytes("challenge", []byte{0xAA, 0xBB}))

		authenticate := serverReadMessage(t, h.server)
		if authenticate.Method() != "authenticate" {
			t.Errorf("second request method = %q, want authenticate", authenticate.Method())
		}
		wantDigest := hex.EncodeToString(deriveDigest("dev", []byte{0xAA, 0xBB}))
		if got := hex.EncodeToString(authenticate.Bytes("digest")); got != wantDigest {
			t.Errorf("digest = %s, want %s", got, wantDigest)
		}
		serverWriteMessage(t, h.server, wire.New().SetInt64("seq", authenticate.Seq()))
	}()

	h.start()

	waitForState(t, h.a, auth.AUTHENTICATED, 2*time.Second)
}

func TestHandshakeFailsOnNoAccess(t *testing.T) {
	h := newHarness(auth.Credentials{Username: "user", Password: "dev", ClientName: "probe", ClientVersion: "1.0"})

	go func() {
		hello := serverReadMessage(t, h.server)
		serverWriteMessage(t, h.server, wire.New().SetInt64("seq", hello.Seq()).SetBytes("challenge", []byte{0x01}))
		authenticate := serverReadMessage(t, h.server)
		serverWriteMessage(t, h.server, wire.New().SetInt64("seq", authenticate.Seq()).SetInt64("noaccess", 1))
	}()

	h.start()

	waitForState(t, h.a, auth.FAILED, 2*time.Second)
}

func TestHandshakeResetsToIdleOnClose(t *testing.T) {
	a := auth.New(dispatch.New(), auth.Credentials{Username: "user", Password: "dev"})
	a.OnConnectionStateChange(conn.CONNECTED, conn.CLOSED)
	if got := a.State(); got != auth.IDLE {
		t.Fatalf("state after CLOSED = %s, want IDLE", got)
	}
}

func TestHandshakeResetsToIdleOnFailed(t *testing.T) {
	a := auth.New(dispatch.New(), auth.Credentials{Username: "user", Password: "dev"})
	a.OnConnectionStateChange(conn.CONNECTED, conn.FAILED)
	if got := a.State(); got != auth.IDLE {
		t.Fatalf("state after FAILED = %s, want IDLE", got)
	}
}

func deriveDigest(password string, challenge []byte) []byte {
	return auth.Digest(password, challenge)
}

func waitForState(t *testing.T, a *auth.Authenticator, want auth.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s after %v, want %s", a.State(), timeout, want)
}
