// Package library implements the Library Poller (C7, §4.7) and the typed
// Operation Replies (C8, §4.8): the single entry point an embedding
// application calls once per tick to drive the whole connector, and the
// handle types returned from its async operations.
package library

import (
	"time"

	"github.com/ocx/fixlib/internal/connect"
	"github.com/ocx/fixlib/internal/dispatcher"
	"github.com/ocx/fixlib/internal/errs"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/liveness"
	"github.com/ocx/fixlib/internal/metrics"
	"github.com/ocx/fixlib/internal/replytracker"
	"github.com/ocx/fixlib/internal/transport"
	"github.com/ocx/fixlib/internal/wire"
)

// Poller composes C2-C6, C8 into the single poll(fragmentLimit) -> workCount
// operation (§4.7). Every exported method here runs exclusively on the
// caller's own thread — the connector has no internal threads of its own
// (§5, C2-C8 are all pure/cooperative).
type Poller struct {
	libraryId int32
	username  string
	password  string

	registry   *fixsession.Registry
	tracker    *replytracker.Tracker
	dispatch   *dispatcher.Dispatcher
	controller *connect.Controller

	liveness         map[int64]*liveness.Detector
	livenessTimeout  time.Duration
	onLivenessChange func(connectionId int64, from, to liveness.State)
	onSlowStatus     func(session *fixsession.Session, isSlow bool)
	onError          func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl
	idle             func()

	sub transport.Subscription
	pub transport.Publication

	metrics *metrics.Metrics

	// pendingSends holds encoded operation fragments the publication
	// back-pressured; each is re-offered every tick until accepted or its
	// ReplyHandle goes terminal (§4.8: publication retries within the
	// operation's own poll, never silently dropped).
	pendingSends []pendingSend

	closed bool
}

type pendingSend struct {
	handle       *replytracker.ReplyHandle
	connectionId int64
	encoded      []byte
}

// Config wires the §6 user-callback surface into the poller. Every callback
// is optional; a nil callback just means the corresponding event is dropped.
type Config struct {
	LibraryId         int32
	Source            connect.EndpointSource
	ReconnectAttempts int
	ReplyTimeout      time.Duration
	LivenessTimeout   time.Duration
	Sub               transport.Subscription
	Pub               transport.Publication

	// Metrics is optional; nil disables instrumentation entirely.
	Metrics *metrics.Metrics

	// Username/Password are the credentials sent with ReleaseSession so the
	// engine can re-logon the released session itself (§6).
	Username string
	Password string

	// IdleStrategy is the back-off applied between iterations of the
	// connect busy-poll while the engine's ack is awaited (§5); defaults to
	// a 1ms sleep.
	IdleStrategy func()

	OnConnected      func(channel string)
	OnLivenessChange func(connectionId int64, from, to liveness.State)

	OnSessionAcquired func(session *fixsession.Session) fixsession.SessionHandler
	OnSessionExists   func(session *fixsession.Session)
	OnDisconnect      func(session *fixsession.Session, reason string) fixsession.FlowControl
	OnSlowStatus      func(session *fixsession.Session, isSlow bool)
	OnSendCompleted   func(position int64) fixsession.FlowControl
	OnError           func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl
}

func NewPoller(cfg Config) *Poller {
	p := &Poller{
		libraryId:        cfg.LibraryId,
		username:         cfg.Username,
		password:         cfg.Password,
		registry:         fixsession.NewRegistry(),
		tracker:          replytracker.NewTracker(),
		liveness:         make(map[int64]*liveness.Detector),
		livenessTimeout:  cfg.LivenessTimeout,
		onLivenessChange: cfg.OnLivenessChange,
		onSlowStatus:     cfg.OnSlowStatus,
		sub:              cfg.Sub,
		pub:              cfg.Pub,
		metrics:          cfg.Metrics,
		onError:          cfg.OnError,
		idle:             cfg.IdleStrategy,
	}
	if p.idle == nil {
		p.idle = func() { time.Sleep(time.Millisecond) }
	}
	p.controller = connect.NewController(cfg.Source, cfg.LibraryId, cfg.ReconnectAttempts, cfg.ReplyTimeout, cfg.OnConnected)
	p.dispatch = dispatcher.New(dispatcher.Dependencies{
		LibraryId:            cfg.LibraryId,
		Registry:             p.registry,
		Tracker:              p.tracker,
		Liveness:             p.livenessFor,
		ConnectCorrelationId: p.controller.ConnectCorrelationId,
		OnNotLeader:          p.controller.RedirectTo,
		OnSessionAcquired:    cfg.OnSessionAcquired,
		OnSessionExists:      cfg.OnSessionExists,
		OnDisconnect:         cfg.OnDisconnect,
		OnSendCompleted:      cfg.OnSendCompleted,
		OnError:              cfg.OnError,
	})
	return p
}

func (p *Poller) livenessFor(connectionId int64) *liveness.Detector {
	lv, ok := p.liveness[connectionId]
	if ok {
		return lv
	}
	lv = liveness.NewDetector(p.livenessTimeout, func(from, to liveness.State) {
		if to == liveness.StateDown {
			p.registry.Remove(connectionId)
			p.controller.Reset()
		}
		if p.onLivenessChange != nil {
			p.onLivenessChange(connectionId, from, to)
		}
	})
	p.liveness[connectionId] = lv
	return lv
}

// Poll drives one tick of the connector (§4.7): blocks through a full
// connect cycle if the engine connection is down, pulls up to fragmentLimit
// inbound fragments through the dispatcher, re-offers back-pressured
// operation sends, polls every session and liveness detector, then sweeps
// reply-tracker deadlines. Returns the total units of work performed, the
// conventional Aeron-style poller return value.
func (p *Poller) Poll(fragmentLimit int) int {
	if p.closed {
		return 0
	}
	now := time.Now()
	work := 0

	if st := p.controller.State(); st != connect.StateConnected && st != connect.StateFailed {
		if p.metrics != nil {
			p.metrics.ConnectAttempts.Inc()
		}
		if err := p.connect(fragmentLimit); err != nil && p.onError != nil {
			kind := errs.KindUnableToConnect
			if k, ok := errs.AsKind(err); ok {
				kind = k
			}
			p.onError(kind, p.libraryId, err.Error())
		}
		work++
	}

	delivered := p.sub.Poll(func(buf []byte, offset, length int) bool {
		disp := p.dispatch.Dispatch(buf, offset, length, now)
		return disp == fixsession.FlowContinue
	}, fragmentLimit)
	work += delivered

	work += p.retryPendingSends()

	p.registry.PollAll(now.UnixMilli())
	allUp := true
	for _, lv := range p.liveness {
		lv.Poll(now)
		if !lv.IsConnected() {
			allUp = false
		}
	}

	expired := p.tracker.SweepTimeouts(now)
	work += len(expired)

	if p.metrics != nil {
		p.metrics.FragmentsDispatched.Add(float64(delivered))
		p.metrics.SessionsActive.Set(float64(p.registry.Len()))
		p.metrics.ReplyTimeouts.Add(float64(len(expired)))
		if allUp {
			p.metrics.LivenessUp.Set(1)
		} else {
			p.metrics.LivenessUp.Set(0)
		}
	}

	return work
}

// connect blocks through one full connect cycle (§4.7 step 1): the
// controller busy-polls Step against the transport, draining the inbound
// subscription between steps (the engine's ack arrives there) with the
// configured idle strategy as back-off, and returns once CONNECTED or the
// attempt budget is spent (§5's single deliberate suspension point).
func (p *Poller) connect(fragmentLimit int) error {
	drain := func() int {
		return p.sub.Poll(func(buf []byte, offset, length int) bool {
			return p.dispatch.Dispatch(buf, offset, length, time.Now()) == fixsession.FlowContinue
		}, fragmentLimit)
	}
	return p.controller.Connect(p.tracker, p.pub, drain, p.idle)
}

// retryPendingSends re-offers every back-pressured operation fragment once
// per tick. An entry whose handle already went terminal (reply arrived on a
// retry race, or the deadline sweep timed it out) is dropped without
// re-offering.
func (p *Poller) retryPendingSends() int {
	if len(p.pendingSends) == 0 {
		return 0
	}
	work := 0
	kept := p.pendingSends[:0]
	for _, ps := range p.pendingSends {
		if ps.handle.IsDone() {
			continue
		}
		offer := p.pub.Offer(ps.encoded)
		if offer >= 0 {
			work++
			if p.onSlowStatus != nil {
				if sub, ok := p.registry.Get(ps.connectionId); ok {
					p.onSlowStatus(sub.Session, false)
				}
			}
			continue
		}
		kept = append(kept, ps)
	}
	p.pendingSends = kept
	return work
}

// Close fails every outstanding operation and marks the poller unusable;
// subsequent Poll/operation calls are no-ops or return a CLOSED error,
// satisfying §8's close-after-close invariant.
func (p *Poller) Close() {
	if p.closed {
		return
	}
	p.tracker.FailAll()
	p.closed = true
}

func (p *Poller) Registry() *fixsession.Registry { return p.registry }
func (p *Poller) Tracker() *replytracker.Tracker { return p.tracker }
func (p *Poller) ControllerState() connect.State { return p.controller.State() }

// --- Operation Replies (C8, §4.8) ---

func (p *Poller) requestOperation(t wire.FragmentType, connectionId int64, payload []byte, timeout time.Duration) *replytracker.ReplyHandle {
	if p.closed {
		h := &replytracker.ReplyHandle{Status: replytracker.StatusErrored, Err: errs.New(errs.KindClosed, p.libraryId, "library closed")}
		return h
	}
	corrId := p.tracker.NextCorrelationId()
	h := p.tracker.Register(corrId, time.Now(), timeout)
	frag := wire.NewFragment(t, corrId, p.libraryId, connectionId, payload)
	encoded, err := frag.Marshal()
	if err != nil {
		p.tracker.Fail(corrId, errs.KindInvalidConfiguration, err.Error())
		return h
	}
	if offer := p.pub.Offer(encoded); offer < 0 {
		// Queue full: retry once per tick until accepted or the handle's
		// deadline sweep times it out (§4.8).
		if offer == transport.BackPressured && p.onSlowStatus != nil {
			if sub, ok := p.registry.Get(connectionId); ok {
				p.onSlowStatus(sub.Session, true)
			}
		}
		p.pendingSends = append(p.pendingSends, pendingSend{handle: h, connectionId: connectionId, encoded: encoded})
	}
	return h
}

// InitiateConfig describes the session an InitiateConnection operation asks
// the engine to dial and hand to this library (§6).
type InitiateConfig struct {
	Host               string
	Port               int32
	SenderCompId       string
	SenderSubId        string
	SenderLocationId   string
	TargetCompId       string
	SequenceType       wire.SequenceNumberType
	InitialSequenceNo  int32
	Username           string
	Password           string
	HeartbeatIntervalS int32
}

// InitiateConnection requests the engine dial, logon and hand back a new
// session (§4.8). The handle resolves to a *fixsession.Session once the
// engine's ManageConnection(INITIATOR) reply arrives.
func (p *Poller) InitiateConnection(cfg InitiateConfig, timeout time.Duration) *replytracker.ReplyHandle {
	payload := wire.InitiateConnectionPayload{
		Host:               cfg.Host,
		Port:               cfg.Port,
		SenderCompId:       cfg.SenderCompId,
		SenderSubId:        cfg.SenderSubId,
		SenderLocationId:   cfg.SenderLocationId,
		TargetCompId:       cfg.TargetCompId,
		SequenceType:       cfg.SequenceType,
		InitialSequenceNo:  cfg.InitialSequenceNo,
		Username:           cfg.Username,
		Password:           cfg.Password,
		HeartbeatIntervalS: cfg.HeartbeatIntervalS,
	}.Marshal()
	return p.requestOperation(wire.FragmentInitiateConnection, 0, payload, timeout)
}

// ReleaseSession hands a session this library owns back to the engine
// (§4.8), snapshotting the session's current state so the engine can keep
// driving it from where the library left off (§6).
func (p *Poller) ReleaseSession(connectionId int64, timeout time.Duration) *replytracker.ReplyHandle {
	payload := wire.ReleaseSessionPayload{ConnectionId: connectionId, Username: p.username, Password: p.password}
	if sub, ok := p.registry.Get(connectionId); ok {
		payload.State = uint8(sub.Session.State)
		payload.HeartbeatIntervalMs = sub.Session.HeartbeatIntervalMs
		payload.LastSentSeq = sub.Session.LastSentSeq
		payload.LastRecvSeq = sub.Session.LastReceivedSeq
	}
	return p.requestOperation(wire.FragmentReleaseSession, connectionId, payload.Marshal(), timeout)
}

// RequestSession requests ownership of an engine-held session by surrogate
// id, replaying inbound messages after lastRecvSeq (§4.8).
func (p *Poller) RequestSession(surrogateId int64, lastRecvSeq int32, timeout time.Duration) *replytracker.ReplyHandle {
	payload := wire.RequestSessionPayload{SurrogateId: surrogateId, LastRecvSeq: lastRecvSeq}.Marshal()
	return p.requestOperation(wire.FragmentRequestSession, 0, payload, timeout)
}
