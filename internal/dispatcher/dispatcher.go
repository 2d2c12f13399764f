// Package dispatcher implements the Protocol Inbound Dispatcher (C5, §4.5):
// it demultiplexes every inbound fragment by FragmentType onto the registry,
// reply tracker, and liveness detector, and returns a disposition telling
// the transport whether to advance past the fragment or redeliver it.
package dispatcher

import (
	"fmt"
	"time"

	"github.com/ocx/fixlib/internal/errs"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/liveness"
	"github.com/ocx/fixlib/internal/replytracker"
	"github.com/ocx/fixlib/internal/wire"
)

// Dependencies groups the collaborators a Dispatcher demultiplexes onto,
// including the full §6 user-callback surface the embedding application
// supplies.
type Dependencies struct {
	// LibraryId discriminates multi-tenant traffic: fragments addressed to a
	// different library instance are dropped, except a Logon notification
	// about a session another library owns (§4.5).
	LibraryId int32

	Registry *fixsession.Registry
	Tracker  *replytracker.Tracker
	Liveness func(connectionId int64) *liveness.Detector

	// ConnectCorrelationId reports the correlation id of the in-flight
	// connect attempt, used to filter stale NotLeader redirects (§4.5).
	ConnectCorrelationId  func() int64
	OnNotLeader           func(channel string)
	OnControlNotification func(authoritative map[int64]struct{})

	// OnSessionAcquired is invoked for Logon(status=NEW): the returned
	// handler is bound to the subscriber for all further OnMessage/OnTimeout
	// delivery (§4.5).
	OnSessionAcquired func(session *fixsession.Session) fixsession.SessionHandler
	// OnSessionExists is invoked for Logon(status=LIBRARY_NOTIFICATION), a
	// no-ownership-change notification that a session is live elsewhere
	// (§4.5).
	OnSessionExists func(session *fixsession.Session)
	// OnDisconnect is invoked when the engine tears a session down; ABORT
	// re-inserts the subscriber so the fragment redelivers (§4.5, §8).
	OnDisconnect func(session *fixsession.Session, reason string) fixsession.FlowControl
	// OnSendCompleted reports the transport position of a durably-sent
	// outbound FIX message (§4.5 NewSentPosition, §6).
	OnSendCompleted func(position int64) fixsession.FlowControl
	// OnError is invoked for an Error fragment whose replyToId does not
	// match any outstanding ReplyHandle (§4.5: "else latch errorType/
	// errorMessage for the connect loop") and for a ControlNotification
	// that names a connectionId this registry has no record of (§4.2).
	OnError func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl
}

type Dispatcher struct {
	deps Dependencies
}

func New(deps Dependencies) *Dispatcher {
	return &Dispatcher{deps: deps}
}

// Dispatch handles one raw fragment read off a Subscription (§4.5's table).
// It returns fixsession.FlowContinue to advance the transport cursor or
// fixsession.FlowAbort to have the same bytes redelivered on the next poll;
// every branch that returns FlowAbort must be safe to call again with the
// same input (§8 idempotent-on-redelivery).
func (d *Dispatcher) Dispatch(buf []byte, offset, length int, now time.Time) fixsession.FlowControl {
	frag, err := wire.Unmarshal(buf, offset, length)
	if err != nil {
		return fixsession.FlowContinue
	}

	if frag.Header.LibraryId != d.deps.LibraryId {
		// Another tenant's traffic. The one exception is a Logon carrying
		// another library's id: that is the engine telling us a session we
		// might want already exists elsewhere, surfaced as SessionExists with
		// no ownership change (§4.5).
		if frag.Header.Type == wire.FragmentLogon {
			if sub, ok := d.deps.Registry.Get(frag.Header.ConnectionId); ok && d.deps.OnSessionExists != nil {
				d.deps.OnSessionExists(sub.Session)
			}
		}
		return fixsession.FlowContinue
	}

	switch frag.Header.Type {
	case wire.FragmentManageConnection:
		return d.onManageConnection(frag, now)
	case wire.FragmentLogon:
		return d.onLogon(frag, now)
	case wire.FragmentFixMessage:
		return d.onFixMessage(frag, now)
	case wire.FragmentDisconnect:
		return d.onDisconnect(frag)
	case wire.FragmentError:
		return d.onError(frag)
	case wire.FragmentApplicationHeartbeat:
		return d.onHeartbeat(frag, now)
	case wire.FragmentReleaseSessionReply, wire.FragmentRequestSessionReply, wire.FragmentConnectAck:
		return d.onOperationReply(frag)
	case wire.FragmentCatchup:
		return d.onCatchup(frag)
	case wire.FragmentNewSentPosition:
		return d.onNewSentPosition(frag)
	case wire.FragmentNotLeader:
		return d.onNotLeader(frag)
	case wire.FragmentControlNotification:
		return d.onControlNotification(frag)
	default:
		return fixsession.FlowContinue
	}
}

func (d *Dispatcher) onManageConnection(frag *wire.Fragment, now time.Time) fixsession.FlowControl {
	mc, err := wire.DecodeManageConnection(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	if !mc.Owned {
		d.deps.Registry.Remove(mc.ConnectionId)
		return fixsession.FlowContinue
	}
	id := fixsession.CompleteSessionId{
		LocalCompId:  mc.LocalCompId,
		RemoteCompId: mc.RemoteCompId,
		SurrogateId:  mc.SurrogateId,
	}
	if existing, ok := d.deps.Registry.Get(mc.ConnectionId); ok {
		existing.Session.Identity = id
		return fixsession.FlowContinue
	}
	session := fixsession.NewSession(id, mc.ConnectionId, fixsession.StateConnected)
	d.deps.Registry.Add(fixsession.NewSessionSubscriber(session))

	// INITIATOR resolves the InitiateConnection ReplyHandle this library is
	// waiting on; ACCEPTOR announces a peer-initiated session with no
	// outstanding request to resolve (§4.5).
	if mc.Type == wire.ManageConnectionInitiator {
		d.deps.Tracker.Complete(frag.Header.CorrelationId, session)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onLogon(frag *wire.Fragment, now time.Time) fixsession.FlowControl {
	sub, ok := d.deps.Registry.Get(frag.Header.ConnectionId)
	if !ok {
		// engine referenced a session this library doesn't own; drop rather
		// than abort, since redelivery would never resolve the mismatch (§7
		// KindUnknownSession is surfaced by the caller's own operations, not
		// manufactured here for unsolicited inbound traffic).
		return fixsession.FlowContinue
	}
	lg, err := wire.DecodeLogon(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	if lg.Status == wire.LogonStatusLibraryNotification {
		if d.deps.OnSessionExists != nil {
			d.deps.OnSessionExists(sub.Session)
		}
		return fixsession.FlowContinue
	}
	sub.Session.State = fixsession.StateActive
	if d.deps.OnSessionAcquired != nil {
		sub.Handler = d.deps.OnSessionAcquired(sub.Session)
	}
	if lv := d.deps.Liveness(frag.Header.ConnectionId); lv != nil {
		lv.OnHeartbeat(now)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onFixMessage(frag *wire.Fragment, now time.Time) fixsession.FlowControl {
	sub, ok := d.deps.Registry.Get(frag.Header.ConnectionId)
	if !ok {
		return fixsession.FlowContinue
	}
	if lv := d.deps.Liveness(frag.Header.ConnectionId); lv != nil {
		lv.OnHeartbeat(now)
	}
	return sub.Deliver(frag.Payload, 0, len(frag.Payload), frag.Header.SeqIdx, "", now.UnixNano(), 0)
}

func (d *Dispatcher) onDisconnect(frag *wire.Fragment) fixsession.FlowControl {
	sub, ok := d.deps.Registry.Get(frag.Header.ConnectionId)
	if !ok {
		return fixsession.FlowContinue
	}
	dp, _ := wire.DecodeDisconnect(frag.Payload)
	d.deps.Registry.Remove(frag.Header.ConnectionId)

	flow := fixsession.FlowContinue
	if d.deps.OnDisconnect != nil {
		flow = d.deps.OnDisconnect(sub.Session, dp.Reason)
	}
	if flow == fixsession.FlowAbort {
		// Re-insert so the same Disconnect fragment redelivers on the next
		// poll rather than being lost (§4.5, §8 idempotent-on-redelivery).
		d.deps.Registry.Add(sub)
		return fixsession.FlowAbort
	}
	sub.Session.Close()
	return fixsession.FlowContinue
}

func (d *Dispatcher) onError(frag *wire.Fragment) fixsession.FlowControl {
	ep, err := wire.DecodeError(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	kind := errs.Kind(ep.Kind)
	if d.deps.Tracker.Fail(frag.Header.CorrelationId, kind, ep.Message) {
		return fixsession.FlowContinue
	}
	// No outstanding ReplyHandle matched replyToId: latch it to the user
	// error callback instead of silently dropping it (§4.5).
	if d.deps.OnError != nil {
		return d.deps.OnError(kind, frag.Header.LibraryId, ep.Message)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onNewSentPosition(frag *wire.Fragment) fixsession.FlowControl {
	np, err := wire.DecodeNewSentPosition(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	if d.deps.OnSendCompleted != nil {
		return d.deps.OnSendCompleted(np.Position)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onHeartbeat(frag *wire.Fragment, now time.Time) fixsession.FlowControl {
	if lv := d.deps.Liveness(frag.Header.ConnectionId); lv != nil {
		lv.OnHeartbeat(now)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onOperationReply(frag *wire.Fragment) fixsession.FlowControl {
	d.deps.Tracker.Complete(frag.Header.CorrelationId, frag.Payload)
	return fixsession.FlowContinue
}

func (d *Dispatcher) onCatchup(frag *wire.Fragment) fixsession.FlowControl {
	sub, ok := d.deps.Registry.Get(frag.Header.ConnectionId)
	if !ok {
		return fixsession.FlowContinue
	}
	cp, err := wire.DecodeCatchup(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	sub.CatchupRemaining += cp.MessageCount
	return fixsession.FlowContinue
}

func (d *Dispatcher) onNotLeader(frag *wire.Fragment) fixsession.FlowControl {
	nl, err := wire.DecodeNotLeader(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	// A redirect is honored only when replyToId >= the in-flight
	// connectCorrelationId: correlation ids increase monotonically, so a
	// lower replyToId belongs to a connect attempt this controller has
	// already moved past and is ignored (§4.5, stale-redirect rule
	// preserved as-is per the spec's Open Questions).
	if d.deps.ConnectCorrelationId != nil && frag.Header.CorrelationId < d.deps.ConnectCorrelationId() {
		return fixsession.FlowContinue
	}
	d.deps.Tracker.Fail(frag.Header.CorrelationId, errs.KindNotLeader, "redirect to "+nl.LeaderChannel)
	if d.deps.OnNotLeader != nil {
		d.deps.OnNotLeader(nl.LeaderChannel)
	}
	return fixsession.FlowContinue
}

func (d *Dispatcher) onControlNotification(frag *wire.Fragment) fixsession.FlowControl {
	cn, err := wire.DecodeControlNotification(frag.Payload)
	if err != nil {
		return fixsession.FlowContinue
	}
	authoritative := make(map[int64]struct{}, len(cn.ConnectionIds))
	for _, id := range cn.ConnectionIds {
		authoritative[id] = struct{}{}
	}
	_, unknown := d.deps.Registry.Reconcile(authoritative)
	if len(unknown) > 0 && d.deps.OnError != nil {
		d.deps.OnError(errs.KindUnknownSession, 0, fmt.Sprintf("control notification referenced unowned connection ids: %v", unknown))
	}
	if d.deps.OnControlNotification != nil {
		d.deps.OnControlNotification(authoritative)
	}
	return fixsession.FlowContinue
}
