// Package sked provides a minimal cancelable periodic-task scheduler, in
// the spirit of the teacher's hk package ("registering cleanup functions
// invoked at specified intervals"). The teacher's own hk.go was not part
// of the retrieved pack (only its Ginkgo test harness was); this package
// reconstructs the interface such tests exercise (Run/register/cancel)
// rather than reproducing unseen internals, and is purpose-built for a
// single use in this module: the subscriber stats-logging timer (spec
// §4.H) and, incidentally, anything else that wants a cancelable
// "every N seconds, do X" job without hand-rolling a goroutine+ticker
// each time.
package sked

import (
	"sync"
	"time"
)

// Job is a cancelable periodic task. Cancel is idempotent and safe to
// call from any goroutine, any number of times.
type Job struct {
	cancel func()
	once   sync.Once
}

// Cancel stops future invocations. Does not wait for an in-flight
// invocation to finish.
func (j *Job) Cancel() {
	j.once.Do(j.cancel)
}

// Every runs fn roughly every interval, starting after the first
// interval elapses, until Cancel is called. fn panics are not recovered
// here: callers that fan out to arbitrary user code should wrap fn
// themselves.
func Every(interval time.Duration, fn func()) *Job {
	stop := make(chan struct{})
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				fn()
			}
		}
	}()
	j := &Job{}
	j.cancel = func() { close(stop) }
	return j
}
