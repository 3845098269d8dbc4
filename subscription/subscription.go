// Package subscription implements the HTSP subscriber task (spec §4.H):
// per-instance filtering of the shared message stream by subscriptionId,
// the subscribe/unsubscribe/speed/skip/live request surface, a 10s
// stats-logging timer, and transparent re-subscription across a
// reconnect. Grounded on dispatch.Dispatcher (the same
// register-as-listener, filter-by-identity shape as the dispatcher's own
// outstanding-request table) and on internal/sked for the cancelable
// periodic stats timer (Design Notes: "Stats timer... any scheduler that
// provides single-shot-after-interval with explicit cancel suffices").
package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberjacob/android-htsp/auth"
	"github.com/cyberjacob/android-htsp/dispatch"
	"github.com/cyberjacob/android-htsp/internal/herr"
	"github.com/cyberjacob/android-htsp/internal/nlog"
	"github.com/cyberjacob/android-htsp/internal/notify"
	"github.com/cyberjacob/android-htsp/internal/sked"
	"github.com/cyberjacob/android-htsp/wire"
)

// handledMethods is the exact set of methods a Subscriber filters (spec
// §4.H). Anything else reaching OnMessage is none of this subscriber's
// business and is ignored without even a subscriptionId check.
var handledMethods = map[string]bool{
	"subscriptionStart":  true,
	"subscriptionStatus": true,
	"subscriptionStop":   true,
	"subscriptionSkip":   true,
	"subscriptionSpeed":  true,
	"queueStatus":        true,
	"signalStatus":       true,
	"timeshiftStatus":    true,
	"muxpkt":             true,
}

// Speed helpers named in spec §4.H.
const (
	SpeedPause  = 0
	SpeedResume = 100
)

// idCounter is the process-wide subscriptionId generator (Design
// Notes: "Global subscription counter shared across subscribers... scope
// to supervisor" — here, one counter per process since this module has
// no multi-supervisor use case to motivate narrower scoping).
var idCounter int64

func nextSubscriptionID() int64 { return atomic.AddInt64(&idCounter, 1) }

// Handlers are the callbacks a Subscriber fans filtered events out to.
// Any left nil is simply not called.
type Handlers struct {
	OnSubscriptionStart  func(m *wire.Message)
	OnSubscriptionStatus func(m *wire.Message)
	OnSubscriptionStop   func(m *wire.Message)
	OnSubscriptionSkip   func(m *wire.Message)
	OnSubscriptionSpeed  func(m *wire.Message)
	OnQueueStatus        func(m *wire.Message)
	OnSignalStatus       func(m *wire.Message)
	OnTimeshiftStatus    func(m *wire.Message)
	OnMuxpkt             func(m *wire.Message)
}

// lastStats is the most recently observed status of each kind, printed
// by the 10s stats timer (spec §4.H: "prints last-observed
// queue/signal/timeshift status").
type lastStats struct {
	queue     *wire.Message
	signal    *wire.Message
	timeshift *wire.Message
}

// AuthRegistrar is the subset of *auth.Authenticator a Subscriber needs in
// order to realize spec §3's "weak (non-owning) back-relation to the
// supervisor for reconnect signaling": enough to register and unregister
// itself as an auth.Listener, nothing more.
type AuthRegistrar interface {
	AddAuthListener(l auth.Listener, exec notify.Executor)
	RemoveAuthListener(l auth.Listener)
}

// Subscriber is one HTSP subscription bound to a shared Dispatcher (spec
// §4.H). It registers itself as a dispatch.MessageListener and as an
// auth.Listener on first Subscribe, unregistering both on Unsubscribe, so
// that while actively subscribed it transparently resubscribes after a
// reconnect (spec §3 back-relation, §8 scenario 6).
type Subscriber struct {
	id    int64
	disp  *dispatch.Dispatcher
	authn AuthRegistrar
	h     Handlers

	ReplyTimeout time.Duration

	mu          sync.Mutex
	subscribed  bool
	channelID   int64
	profile     string
	haveProfile bool
	timeshift   int64
	haveTS      bool
	stats       lastStats
	statsJob    *sked.Job
}

// New constructs a Subscriber with a fresh process-unique subscriptionId
// bound to d. authn is the authenticator (or any AuthRegistrar) the
// Subscriber registers with on first Subscribe so it can hear about
// post-reconnect AUTHENTICATED transitions. New does not touch the wire
// until Subscribe is called.
func New(d *dispatch.Dispatcher, authn AuthRegistrar, h Handlers) *Subscriber {
	return &Subscriber{
		id:           nextSubscriptionID(),
		disp:         d,
		authn:        authn,
		h:            h,
		ReplyTimeout: 5 * time.Second,
	}
}

// ID returns this instance's subscriptionId.
func (s *Subscriber) ID() int64 { return s.id }

// Subscribed reports whether Subscribe last completed successfully and
// Unsubscribe has not since been called.
func (s *Subscriber) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Subscribe sends a subscribe request for channelID (spec §4.H). profile
// and timeshiftPeriod are optional (zero value = field omitted). On
// success, registers as a message listener and an auth-state listener
// (first subscribe only) and starts the 10s stats timer.
func (s *Subscriber) Subscribe(channelID int64, profile string, timeshiftPeriod int64) error {
	req := wire.New().
		SetMethod("subscribe").
		SetInt64("subscriptionId", s.id).
		SetInt64("channelId", channelID)
	if profile != "" {
		req.SetString("profile", profile)
	}
	if timeshiftPeriod != 0 {
		req.SetInt64("timeshiftPeriod", timeshiftPeriod)
	}

	reply, err := s.disp.SendAwaitReply(req, s.ReplyTimeout)
	if err != nil {
		return err
	}

	grantedTS := reply.Int64("timeshiftPeriod", timeshiftPeriod)

	s.mu.Lock()
	wasSubscribed := s.subscribed
	s.channelID = channelID
	s.profile, s.haveProfile = profile, profile != ""
	s.timeshift, s.haveTS = grantedTS, true
	s.subscribed = true
	s.mu.Unlock()

	if !wasSubscribed {
		s.disp.AddMessageListener(s, nil)
		s.authn.AddAuthListener(s, nil)
	}
	s.startStatsTimer()
	return nil
}

// Unsubscribe stops the stats timer, unregisters the message and
// auth-state listeners, and sends an unsubscribe fire-and-forget (spec
// §4.H, tolerating NotConnected).
func (s *Subscriber) Unsubscribe() error {
	s.stopStatsTimer()

	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()

	s.disp.RemoveMessageListener(s)
	s.authn.RemoveAuthListener(s)

	req := wire.New().SetMethod("unsubscribe").SetInt64("subscriptionId", s.id)
	if err := s.disp.SendFireAndForget(req); err != nil && !herr.IsNotConnected(err) {
		return err
	}
	return nil
}

// SetSpeed sends subscriptionSpeed fire-and-forget, tolerating
// NotConnected (spec §4.H).
func (s *Subscriber) SetSpeed(speed int64) error {
	return s.fireAndForget(wire.New().
		SetMethod("subscriptionSpeed").
		SetInt64("subscriptionId", s.id).
		SetInt64("speed", speed))
}

// Pause is SetSpeed(SpeedPause).
func (s *Subscriber) Pause() error { return s.SetSpeed(SpeedPause) }

// Resume is SetSpeed(SpeedResume).
func (s *Subscriber) Resume() error { return s.SetSpeed(SpeedResume) }

// Skip sends subscriptionSkip fire-and-forget, tolerating NotConnected.
func (s *Subscriber) Skip(time int64) error {
	return s.fireAndForget(wire.New().
		SetMethod("subscriptionSkip").
		SetInt64("subscriptionId", s.id).
		SetInt64("time", time))
}

// Live sends subscriptionLive fire-and-forget, tolerating NotConnected.
func (s *Subscriber) Live() error {
	return s.fireAndForget(wire.New().
		SetMethod("subscriptionLive").
		SetInt64("subscriptionId", s.id))
}

func (s *Subscriber) fireAndForget(m *wire.Message) error {
	if err := s.disp.SendFireAndForget(m); err != nil && !herr.IsNotConnected(err) {
		return err
	}
	return nil
}

// OnMessage implements dispatch.MessageListener: filter by method, then
// by subscriptionId (spec §4.H — "dropped silently" on mismatch), then
// fan out to Handlers and record stats snapshots.
func (s *Subscriber) OnMessage(m *wire.Message) {
	method := m.Method()
	if !handledMethods[method] {
		return
	}
	if m.Int64("subscriptionId", -1) != s.id {
		return
	}

	switch method {
	case "subscriptionStart":
		s.call(s.h.OnSubscriptionStart, m)
	case "subscriptionStatus":
		s.call(s.h.OnSubscriptionStatus, m)
	case "subscriptionStop":
		s.call(s.h.OnSubscriptionStop, m)
	case "subscriptionSkip":
		s.call(s.h.OnSubscriptionSkip, m)
	case "subscriptionSpeed":
		s.call(s.h.OnSubscriptionSpeed, m)
	case "queueStatus":
		s.mu.Lock()
		s.stats.queue = m
		s.mu.Unlock()
		s.call(s.h.OnQueueStatus, m)
	case "signalStatus":
		s.mu.Lock()
		s.stats.signal = m
		s.mu.Unlock()
		s.call(s.h.OnSignalStatus, m)
	case "timeshiftStatus":
		s.mu.Lock()
		s.stats.timeshift = m
		s.mu.Unlock()
		s.call(s.h.OnTimeshiftStatus, m)
	case "muxpkt":
		s.call(s.h.OnMuxpkt, m)
	}
}

func (s *Subscriber) call(fn func(*wire.Message), m *wire.Message) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			nlog.Errorf("subscription: handler panicked: %v", p)
		}
	}()
	fn(m)
}

// OnAuthStateChange implements auth.Listener (spec §4.H: "upon
// AUTHENTICATED while previously subscribed, re-issue the prior
// subscribe"). Runs the resubscribe in its own goroutine since
// SendAwaitReply must never run on the delivering goroutine.
func (s *Subscriber) OnAuthStateChange(_, new auth.State) {
	if new != auth.AUTHENTICATED {
		return
	}

	s.mu.Lock()
	shouldResubscribe := s.subscribed
	channelID, profile, haveProfile := s.channelID, s.profile, s.haveProfile
	ts, haveTS := s.timeshift, s.haveTS
	s.mu.Unlock()

	if !shouldResubscribe {
		return
	}

	go func() {
		p := ""
		if haveProfile {
			p = profile
		}
		t := int64(0)
		if haveTS {
			t = ts
		}
		if err := s.Subscribe(channelID, p, t); err != nil {
			nlog.Warningf("subscription %d: resubscribe after reconnect failed: %v", s.id, err)
		}
	}()
}

func (s *Subscriber) startStatsTimer() {
	s.stopStatsTimer()
	job := sked.Every(10*time.Second, s.logStats)
	s.mu.Lock()
	s.statsJob = job
	s.mu.Unlock()
}

func (s *Subscriber) stopStatsTimer() {
	s.mu.Lock()
	job := s.statsJob
	s.statsJob = nil
	s.mu.Unlock()
	if job != nil {
		job.Cancel()
	}
}

func (s *Subscriber) logStats() {
	s.mu.Lock()
	q, sig, ts := s.stats.queue, s.stats.signal, s.stats.timeshift
	s.mu.Unlock()

	nlog.Infof("subscription %d: queue=%s signal=%s timeshift=%s", s.id, summarize(q), summarize(sig), summarize(ts))
}

func summarize(m *wire.Message) string {
	if m == nil {
		return "<none>"
	}
	j, err := m.JSON()
	if err != nil {
		return "<unprintable>"
	}
	return j
}
