// Package fixsession implements the session data model (§3) and the Session
// Registry (C2, §4.2). It is deliberately thin about the FIX application
// state machine itself (logon/heartbeat/resend/logout): that is an
// out-of-scope collaborator per §1, reached through the SessionHandler
// interface a caller supplies via onSessionAcquired.
package fixsession

import "fmt"

// State is a Session's lifecycle state (§3).
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateSentLogon
	StateActive
	StateAwaitingLogout
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSentLogon:
		return "SENT_LOGON"
	case StateActive:
		return "ACTIVE"
	case StateAwaitingLogout:
		return "AWAITING_LOGOUT"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CompleteSessionId is the immutable triple identifying a FIX session (§3).
// Keys are unique under SurrogateId.
type CompleteSessionId struct {
	LocalCompId  string
	RemoteCompId string
	SurrogateId  int64
}

func (id CompleteSessionId) String() string {
	return fmt.Sprintf("%s->%s[%d]", id.LocalCompId, id.RemoteCompId, id.SurrogateId)
}

// Session is a connected FIX peer owned by exactly one library instance at a
// time (§3). Field mutation happens only on the poller thread (§5).
type Session struct {
	Identity CompleteSessionId

	ConnectionId int64
	State        State

	LastSentSeq     int32
	LastReceivedSeq int32

	HeartbeatIntervalMs int64
	LibraryConnected    bool
}

func NewSession(id CompleteSessionId, connectionId int64, state State) *Session {
	return &Session{
		Identity:     id,
		ConnectionId: connectionId,
		State:        state,
	}
}

// SurrogateId is a convenience accessor matching the teacher's style of
// exposing the identity field most callers key off of.
func (s *Session) SurrogateId() int64 { return s.Identity.SurrogateId }

// Close transitions a session to DISCONNECTED, called once its owning
// subscriber is removed from the registry (§4.2, §4.5).
func (s *Session) Close() {
	s.State = StateDisconnected
	s.LibraryConnected = false
}

// SessionHandler is the out-of-scope application state machine collaborator
// (§1, §6): bound to a SessionSubscriber once a caller's onSessionAcquired
// callback returns one for a newly-owned session.
type SessionHandler interface {
	OnMessage(buf []byte, offset, length int, seqIdx int32, msgType string, tsNs int64, position int64) FlowControl
	OnTimeout()
}

// FlowControl is the handler disposition returned from inbound dispatch
// (§4.5): CONTINUE means the fragment was consumed, ABORT means the
// transport must redeliver it on the next poll (so handlers returning ABORT
// must be idempotent, §8).
type FlowControl int

const (
	FlowContinue FlowControl = iota
	FlowAbort
)

// SessionSubscriber wraps a Session with its parser/timing state and lives
// exactly as long as the underlying connection (§3).
type SessionSubscriber struct {
	Session *Session
	Handler SessionHandler

	// CatchupRemaining counts down replayed messages after a Catchup
	// notification (§4.5); while > 0 the subscriber buffers instead of
	// delivering (buffering itself is a collaborator concern — the
	// subscriber just tracks the count this spec cares about testing).
	CatchupRemaining int32
}

func NewSessionSubscriber(session *Session) *SessionSubscriber {
	return &SessionSubscriber{Session: session}
}

// Deliver routes one inbound application message to the bound handler,
// preserving the per-connection ordering guarantee of §5 (the caller is
// responsible for calling Deliver only from the single poller thread, in
// transport order).
func (s *SessionSubscriber) Deliver(buf []byte, offset, length int, seqIdx int32, msgType string, tsNs int64, position int64) FlowControl {
	if s.CatchupRemaining > 0 {
		s.CatchupRemaining--
		return FlowContinue
	}
	if s.Handler == nil {
		return FlowContinue
	}
	return s.Handler.OnMessage(buf, offset, length, seqIdx, msgType, tsNs, position)
}

// Poll drives session-level housekeeping (heartbeat/resend timers) each
// tick; the concrete timer logic lives in the application state machine
// collaborator, so this is a pass-through hook the registry calls uniformly.
func (s *SessionSubscriber) Poll(nowMs int64) {
	if s.Session.State == StateDisconnected && s.Handler != nil {
		s.Handler.OnTimeout()
	}
}
