// Package herr defines the error kinds used across the HTSP client (spec
// §7): Malformed, Io, UnresolvedAddress, NotConnected, Timeout, AuthFailed,
// and Protocol. Each is a small struct implementing error, in the shape of
// the teacher's cmn/cos error types (ErrNotFound: a constructor plus an
// Is* predicate). Underlying causes are attached via Unwrap so that
// errors.Is/errors.As from the standard library, and github.com/pkg/errors
// wrapping used elsewhere in this module, both see through to them.
package herr

import "fmt"

// ErrMalformed reports a wire-framing or type-byte violation: fatal for
// the connection that produced it.
type ErrMalformed struct {
	reason string
	cause  error
}

func NewErrMalformed(format string, a ...any) *ErrMalformed {
	return &ErrMalformed{reason: fmt.Sprintf(format, a...)}
}

func WrapMalformed(cause error, format string, a ...any) *ErrMalformed {
	return &ErrMalformed{reason: fmt.Sprintf(format, a...), cause: cause}
}

func (e *ErrMalformed) Error() string {
	if e.cause != nil {
		return "malformed frame: " + e.reason + ": " + e.cause.Error()
	}
	return "malformed frame: " + e.reason
}

func (e *ErrMalformed) Unwrap() error { return e.cause }

func IsMalformed(err error) bool {
	_, ok := err.(*ErrMalformed)
	return ok
}

// ErrIo wraps a socket-level I/O failure.
type ErrIo struct {
	cause error
}

func WrapIo(cause error) *ErrIo { return &ErrIo{cause: cause} }

func (e *ErrIo) Error() string { return "i/o error: " + e.cause.Error() }
func (e *ErrIo) Unwrap() error { return e.cause }

func IsIo(err error) bool {
	_, ok := err.(*ErrIo)
	return ok
}

// ErrUnresolvedAddress reports DNS/address resolution failure during dial.
type ErrUnresolvedAddress struct {
	host  string
	cause error
}

func WrapUnresolvedAddress(host string, cause error) *ErrUnresolvedAddress {
	return &ErrUnresolvedAddress{host: host, cause: cause}
}

func (e *ErrUnresolvedAddress) Error() string {
	return fmt.Sprintf("unresolved address %q: %v", e.host, e.cause)
}
func (e *ErrUnresolvedAddress) Unwrap() error { return e.cause }

func IsUnresolvedAddress(err error) bool {
	_, ok := err.(*ErrUnresolvedAddress)
	return ok
}

// ErrNotConnected is returned by a send attempt while the engine is not
// CONNECTED. Not fatal: the caller may retry once connected.
type ErrNotConnected struct{ what string }

func NewErrNotConnected(what string) *ErrNotConnected { return &ErrNotConnected{what: what} }

func (e *ErrNotConnected) Error() string {
	if e.what == "" {
		return "not connected"
	}
	return "not connected: " + e.what
}

func IsNotConnected(err error) bool {
	_, ok := err.(*ErrNotConnected)
	return ok
}

// ErrTimeout is returned when a synchronous request-reply call's deadline
// elapses before a matching reply arrives.
type ErrTimeout struct{ seq int64 }

func NewErrTimeout(seq int64) *ErrTimeout { return &ErrTimeout{seq: seq} }

func (e *ErrTimeout) Error() string { return fmt.Sprintf("timeout waiting for reply to seq %d", e.seq) }

func IsTimeout(err error) bool {
	_, ok := err.(*ErrTimeout)
	return ok
}

// ErrAuthFailed reports that the server rejected credentials (noaccess).
type ErrAuthFailed struct{ reason string }

func NewErrAuthFailed(reason string) *ErrAuthFailed { return &ErrAuthFailed{reason: reason} }

func (e *ErrAuthFailed) Error() string { return "authentication failed: " + e.reason }

func IsAuthFailed(err error) bool {
	_, ok := err.(*ErrAuthFailed)
	return ok
}

// ErrProtocol reports an unexpected or missing required field in an
// otherwise well-framed message. Non-fatal: logged and dropped.
type ErrProtocol struct{ reason string }

func NewErrProtocol(format string, a ...any) *ErrProtocol {
	return &ErrProtocol{reason: fmt.Sprintf(format, a...)}
}

func (e *ErrProtocol) Error() string { return "protocol error: " + e.reason }

func IsProtocol(err error) bool {
	_, ok := err.(*ErrProtocol)
	return ok
}
