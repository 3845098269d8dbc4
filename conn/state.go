// Package conn implements the HTSP connection engine (spec §4.E): a
// single-socket TCP I/O loop with a documented lifecycle state machine,
// translated to idiomatic Go as a pair of goroutines (read, write)
// coordinated through channels rather than raw readiness polling — the
// Design Notes explicitly allow this ("implementers may instead use
// edge-triggered interest with explicit arm/disarm — semantically
// equivalent"). Grounded on the teacher's single-goroutine stream model
// (transport/sendmsg.go's dedicated send goroutine) and on the
// request/response multiplexing shape in the mini-rpc reference
// (ClientTransport.recvLoop/Send).
package conn

// State is one of the five lifecycle states a connection engine passes
// through during one run (spec §4.E). CLOSED and FAILED are terminal for
// that run; the supervisor constructs a fresh Engine to reconnect.
type State int

const (
	CLOSED State = iota
	CONNECTING
	CONNECTED
	CLOSING
	FAILED
)

func (s State) String() string {
	switch s {
	case CLOSED:
		return "CLOSED"
	case CONNECTING:
		return "CONNECTING"
	case CONNECTED:
		return "CONNECTED"
	case CLOSING:
		return "CLOSING"
	case FAILED:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends this engine's run.
func (s State) Terminal() bool { return s == CLOSED || s == FAILED }
