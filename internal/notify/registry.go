// Package notify provides the listener-registry pattern shared by the
// connection engine (§4.E connection-state listeners), the dispatcher
// (§4.F message listeners), and the authenticator (§4.G auth-state
// listeners): identity-keyed registration, idempotent duplicate add/remove
// (Design Notes 9), and "post if an execution context was supplied,
// otherwise call inline" fan-out (Design Notes 9, "Listener execution
// contexts"). Panics from listener callbacks are recovered, logged, and
// never propagated, satisfying the fan-out policy in spec §4.F.
package notify

import (
	"sync"

	"github.com/cyberjacob/android-htsp/internal/nlog"
)

// Executor posts a callback for asynchronous execution (e.g. onto a UI
// thread's message loop). A nil Executor means "run inline, on the
// caller's goroutine" — in this module, the engine's read/write
// goroutines, or the auth/subscription goroutines.
type Executor interface {
	Post(fn func())
}

type entry[T comparable] struct {
	listener T
	exec     Executor
}

// Registry is a thread-safe, identity-keyed set of listeners of type T.
type Registry[T comparable] struct {
	mu      sync.Mutex
	entries []entry[T]
	kind    string // for log messages, e.g. "connection listener"
}

func New[T comparable](kind string) *Registry[T] {
	return &Registry[T]{kind: kind}
}

// Add registers listener, optionally posting future callbacks through
// exec. Adding the same listener twice is a no-op (logged), per Design
// Notes 9: "The source logs a warning and no-ops."
func (r *Registry[T]) Add(listener T, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.listener == listener {
			nlog.Warningf("%s already registered, ignoring duplicate add", r.kind)
			return
		}
	}
	r.entries = append(r.entries, entry[T]{listener: listener, exec: exec})
}

// Remove unregisters listener. Removing one that isn't present is a
// no-op (logged), not an error.
func (r *Registry[T]) Remove(listener T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.listener == listener {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
	nlog.Warningf("%s not registered, ignoring duplicate remove", r.kind)
}

// snapshot returns a copy of the current entries, safe to range over
// without holding the registry lock (a listener callback may itself call
// Add/Remove).
func (r *Registry[T]) snapshot() []entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry[T], len(r.entries))
	copy(out, r.entries)
	return out
}

// Dispatch invokes fn(listener) for every registered listener: posted
// through its executor if one was supplied, inline otherwise. Panics are
// recovered and logged so one misbehaving listener can never take down
// the I/O loop that is fanning out to it.
func (r *Registry[T]) Dispatch(fn func(T)) {
	for _, e := range r.snapshot() {
		listener, exec := e.listener, e.exec
		call := func() {
			defer func() {
				if p := recover(); p != nil {
					nlog.Errorf("%s panicked: %v", r.kind, p)
				}
			}()
			fn(listener)
		}
		if exec != nil {
			exec.Post(call)
		} else {
			call()
		}
	}
}

// Len reports the number of registered listeners (tests only).
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
