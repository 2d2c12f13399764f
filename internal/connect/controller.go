// Package connect implements the Connect/Failover Controller (C6, §4.6): an
// iterative (explicitly not recursive, per the Open Questions resolved in
// DESIGN.md) state machine that round-robins across configured engine
// channels until one accepts a LibraryConnect and starts heartbeating.
// Grounded on the teacher's federation.HandshakeStateMachine (state enum,
// transition table, history-of-transitions), collapsed to a single-threaded
// driver with no mutex since the poller is the sole caller (§5). Step is the
// unit transition; Connect busy-polls Step to a terminal outcome, the one
// deliberate blocking operation in the connector.
package connect

import (
	"fmt"
	"time"

	"github.com/ocx/fixlib/internal/errs"
	"github.com/ocx/fixlib/internal/replytracker"
	"github.com/ocx/fixlib/internal/transport"
	"github.com/ocx/fixlib/internal/wire"
)

type State int

const (
	StateInit State = iota
	StateSendConnect
	StateAwaitHeartbeat
	StateConnected
	StateRetry
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSendConnect:
		return "SEND_CONNECT"
	case StateAwaitHeartbeat:
		return "AWAIT_HEARTBEAT"
	case StateConnected:
		return "CONNECTED"
	case StateRetry:
		return "RETRY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) IsTerminal() bool { return s == StateConnected || s == StateFailed }

type Transition struct {
	From, To State
	At       time.Time
	Err      error
}

// Controller drives one library instance's connection to exactly one engine
// channel at a time, rotating on failure (§4.6).
type Controller struct {
	source    EndpointSource
	libraryId int32

	channels   []string
	channelIdx int

	state        State
	attempt      int
	maxAttempts  int
	replyTimeout time.Duration

	connectDeadline      time.Time
	currentCorrelationId int64
	pendingHandle        *replytracker.ReplyHandle
	lastConnectSentAt    time.Time
	redirected           bool

	history []Transition
	lastErr error

	onConnected func(channel string)
}

func NewController(source EndpointSource, libraryId int32, maxAttempts int, replyTimeout time.Duration, onConnected func(channel string)) *Controller {
	return &Controller{
		source:       source,
		libraryId:    libraryId,
		state:        StateInit,
		maxAttempts:  maxAttempts,
		replyTimeout: replyTimeout,
		onConnected:  onConnected,
	}
}

func (c *Controller) State() State { return c.state }

// ConnectCorrelationId reports the correlation id of the in-flight (or most
// recent) connect attempt; replies tagged with an older id are stale (§4.5).
func (c *Controller) ConnectCorrelationId() int64 { return c.currentCorrelationId }

func (c *Controller) transition(to State, err error) {
	c.history = append(c.history, Transition{From: c.state, To: to, At: time.Now(), Err: err})
	c.state = to
	if err != nil {
		c.lastErr = err
	}
}

func (c *Controller) currentChannel() (string, bool) {
	if len(c.channels) == 0 {
		c.channels = c.source.Endpoints()
	}
	if len(c.channels) == 0 {
		return "", false
	}
	return c.channels[c.channelIdx%len(c.channels)], true
}

func (c *Controller) rotateChannel() {
	c.channelIdx++
}

// sendLibraryConnect offers a LibraryConnect fragment tagged with the
// attempt's currentCorrelationId, used both for the initial send and for the
// periodic resend while AWAIT_HEARTBEAT is outstanding (§4.6).
func (c *Controller) sendLibraryConnect(now time.Time, pub transport.Publication) error {
	frag := wire.NewFragment(wire.FragmentLibraryConnect, c.currentCorrelationId, c.libraryId, 0,
		wire.LibraryConnectPayload{LibraryId: c.libraryId}.Marshal())
	encoded, err := frag.Marshal()
	if err != nil {
		return err
	}
	if pub.Offer(encoded) < 0 {
		return fmt.Errorf("connect: publication not ready")
	}
	c.lastConnectSentAt = now
	return nil
}

// RedirectTo forces the next channel to a leader-reported address (§4.6
// NotLeader handling), inserting it at the front of the rotation rather than
// appending so it is tried immediately on the next SEND_CONNECT step. An
// empty hint means the replying engine doesn't know the leader either; the
// rotation just advances to the next configured candidate. Either way the
// in-flight attempt is marked redirected so the RETRY transition it falls
// through doesn't rotate a second time or spend a reconnect attempt — a
// NotLeader reply is control flow, not a connect failure (§7).
func (c *Controller) RedirectTo(channel string) {
	if channel == "" {
		c.rotateChannel()
	} else {
		c.channels = append([]string{channel}, c.channels...)
		c.channelIdx = 0
	}
	c.redirected = true
}

// Step advances the state machine by exactly one iteration; Connect loops
// it rather than this function recursing internally, keeping the retry
// cycle's stack depth flat.
func (c *Controller) Step(now time.Time, tracker *replytracker.Tracker, pub transport.Publication) {
	switch c.state {
	case StateInit:
		c.attempt = 0
		c.transition(StateSendConnect, nil)

	case StateSendConnect:
		if _, ok := c.currentChannel(); !ok {
			c.transition(StateFailed, errs.New(errs.KindInvalidConfiguration, c.libraryId, "no engine channels configured"))
			return
		}
		corrId := tracker.NextCorrelationId()
		c.currentCorrelationId = corrId
		c.pendingHandle = tracker.Register(corrId, now, c.replyTimeout)

		if err := c.sendLibraryConnect(now, pub); err != nil {
			c.transition(StateRetry, err)
			return
		}
		c.connectDeadline = now.Add(c.replyTimeout)
		c.transition(StateAwaitHeartbeat, nil)

	case StateAwaitHeartbeat:
		// Hold the handle returned from Register directly rather than
		// re-fetching it from the tracker by id: Complete/Fail delete the
		// entry from the tracker's map once resolved (§4.3), so a second
		// Get(corrId) here could no longer tell success from failure. The
		// handle itself stays valid and keeps its terminal Status/Err.
		h := c.pendingHandle
		if h != nil && h.IsDone() {
			if h.Status == replytracker.StatusCompleted {
				c.transition(StateConnected, nil)
				if c.onConnected != nil {
					if channel, has := c.currentChannel(); has {
						c.onConnected(channel)
					}
				}
				return
			}
			c.transition(StateRetry, h.Err)
			return
		}
		if now.After(c.connectDeadline) {
			c.transition(StateRetry, errs.New(errs.KindTimedOut, c.libraryId, "connect reply timed out"))
			return
		}
		// Re-send LibraryConnect at replyTimeoutMs/4 until heartbeat arrives
		// (§4.6): the engine may have dropped the first attempt, and this is
		// the only signal an idle library instance has that it's still
		// waiting to be acknowledged.
		if c.replyTimeout > 0 && now.Sub(c.lastConnectSentAt) >= c.replyTimeout/4 {
			_ = c.sendLibraryConnect(now, pub)
		}

	case StateRetry:
		if c.redirected {
			c.redirected = false
			c.transition(StateSendConnect, nil)
			return
		}
		c.attempt++
		c.rotateChannel()
		if c.attempt > c.maxAttempts {
			c.transition(StateFailed, errs.New(errs.KindUnableToConnect, c.libraryId, "exhausted reconnect attempts"))
			return
		}
		c.transition(StateSendConnect, nil)

	case StateConnected, StateFailed:
		// terminal; caller must call Reset to retry after an explicit disconnect
	}
}

// Connect drives the state machine to a terminal outcome for this connect
// cycle (§4.6, §5): a bounded busy-poll that alternates Step with draining
// the inbound subscription via drain (the engine's ack arrives there) and
// the caller-supplied idle back-off whenever a drain comes up empty. The
// loop is iterative — Step is the unit transition, repeated here rather
// than recursing — and bounded by the attempt budget and per-attempt reply
// deadline: it returns nil once CONNECTED, or the terminal error once
// reconnect attempts are exhausted.
func (c *Controller) Connect(tracker *replytracker.Tracker, pub transport.Publication, drain func() int, idle func()) error {
	for {
		c.Step(time.Now(), tracker, pub)
		switch c.state {
		case StateConnected:
			return nil
		case StateFailed:
			return c.lastErr
		}
		if drain() == 0 && idle != nil {
			idle()
		}
	}
}

// Reset returns the controller to INIT, used after a liveness-detected
// disconnect to trigger a fresh connect cycle (§4.4/§4.6 interplay). With a
// clustered channel list the dead engine is skipped by rotating to the next
// candidate before the cycle restarts.
func (c *Controller) Reset() {
	if len(c.channels) > 1 {
		c.rotateChannel()
	}
	c.state = StateInit
	c.attempt = 0
}

func (c *Controller) LastError() error { return c.lastErr }

func (c *Controller) History() []Transition {
	out := make([]Transition, len(c.history))
	copy(out, c.history)
	return out
}
