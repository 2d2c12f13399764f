package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/fixlib/internal/errs"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/liveness"
	"github.com/ocx/fixlib/internal/replytracker"
	"github.com/ocx/fixlib/internal/wire"
)

func newTestDispatcher() (*Dispatcher, *fixsession.Registry, *replytracker.Tracker) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	lv := make(map[int64]*liveness.Detector)
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness: func(connectionId int64) *liveness.Detector {
			if existing, ok := lv[connectionId]; ok {
				return existing
			}
			det := liveness.NewDetector(time.Second, nil)
			lv[connectionId] = det
			return det
		},
	})
	return d, reg, tr
}

func marshal(t *testing.T, frag *wire.Fragment) []byte {
	t.Helper()
	b, err := frag.Marshal()
	require.NoError(t, err)
	return b
}

func TestDispatcher_ManageConnection_AddsSession(t *testing.T) {
	d, reg, _ := newTestDispatcher()
	payload := wire.ManageConnectionPayload{
		ConnectionId: 1, SurrogateId: 100, LocalCompId: "LIB", RemoteCompId: "ENGINE", Owned: true,
	}.Marshal()
	frag := wire.NewFragment(wire.FragmentManageConnection, 0, 1, 1, payload)
	buf := marshal(t, frag)

	flow := d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, fixsession.FlowContinue, flow)
	sub, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), sub.Session.SurrogateId())
}

func TestDispatcher_ManageConnection_UnownedRemovesSession(t *testing.T) {
	d, reg, _ := newTestDispatcher()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))

	payload := wire.ManageConnectionPayload{ConnectionId: 1, Owned: false}.Marshal()
	frag := wire.NewFragment(wire.FragmentManageConnection, 0, 1, 1, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	_, ok := reg.Get(1)
	assert.False(t, ok)
}

func TestDispatcher_Error_ResolvesTrackerHandle(t *testing.T) {
	d, _, tr := newTestDispatcher()
	id := tr.NextCorrelationId()
	h := tr.Register(id, time.Now(), time.Minute)

	payload := wire.ErrorPayload{Kind: 0, Message: "no such session"}.Marshal()
	frag := wire.NewFragment(wire.FragmentError, id, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.True(t, h.IsDone())
	assert.Equal(t, replytracker.StatusErrored, h.Status)
}

func TestDispatcher_OperationReply_CompletesTrackerHandle(t *testing.T) {
	d, _, tr := newTestDispatcher()
	id := tr.NextCorrelationId()
	h := tr.Register(id, time.Now(), time.Minute)

	frag := wire.NewFragment(wire.FragmentReleaseSessionReply, id, 1, 0, []byte("ok"))
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, replytracker.StatusCompleted, h.Status)
}

func TestDispatcher_ControlNotification_ReconcilesRegistry(t *testing.T) {
	d, reg, _ := newTestDispatcher()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 2}, 2, fixsession.StateActive)))

	payload := wire.ControlNotificationPayload{ConnectionIds: []int64{2}}.Marshal()
	frag := wire.NewFragment(wire.FragmentControlNotification, 0, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	_, ok := reg.Get(1)
	assert.False(t, ok)
	_, ok = reg.Get(2)
	assert.True(t, ok)
}

func TestDispatcher_NotLeader_IgnoresStaleRedirect(t *testing.T) {
	var redirected string
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	d := New(Dependencies{
		LibraryId:            1,
		Registry:             reg,
		Tracker:              tr,
		Liveness:             func(int64) *liveness.Detector { return nil },
		ConnectCorrelationId: func() int64 { return 1000 },
		OnNotLeader:          func(ch string) { redirected = ch },
	})

	// replyToId below the in-flight connect correlation id: a redirect for
	// a superseded connect attempt
	payload := wire.NotLeaderPayload{LeaderChannel: "leader:9000"}.Marshal()
	frag := wire.NewFragment(wire.FragmentNotLeader, 999, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Empty(t, redirected, "stale NotLeader must not trigger a redirect")
}

func TestDispatcher_ManageConnection_InitiatorResolvesReplyHandle(t *testing.T) {
	d, reg, tr := newTestDispatcher()
	id := tr.NextCorrelationId()
	h := tr.Register(id, time.Now(), time.Minute)

	payload := wire.ManageConnectionPayload{
		Type: wire.ManageConnectionInitiator, ConnectionId: 42, SurrogateId: 1001,
		LocalCompId: "LIB", RemoteCompId: "ENGINE", Owned: true,
	}.Marshal()
	frag := wire.NewFragment(wire.FragmentManageConnection, id, 1, 42, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	require.Equal(t, replytracker.StatusCompleted, h.Status)
	session, ok := h.Result.(*fixsession.Session)
	require.True(t, ok)
	assert.Equal(t, int64(42), session.ConnectionId)
	_, ok = reg.Get(42)
	assert.True(t, ok)
}

func TestDispatcher_ManageConnection_AcceptorDoesNotTouchTracker(t *testing.T) {
	d, _, tr := newTestDispatcher()
	id := tr.NextCorrelationId()
	h := tr.Register(id, time.Now(), time.Minute)

	payload := wire.ManageConnectionPayload{
		Type: wire.ManageConnectionAcceptor, ConnectionId: 7, SurrogateId: 700,
		LocalCompId: "LIB", RemoteCompId: "ENGINE", Owned: true,
	}.Marshal()
	frag := wire.NewFragment(wire.FragmentManageConnection, 0, 1, 7, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.False(t, h.IsDone())
}

func TestDispatcher_Logon_New_BindsHandlerViaOnSessionAcquired(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateConnected)))

	handler := &stubHandler{}
	var acquired *fixsession.Session
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnSessionAcquired: func(session *fixsession.Session) fixsession.SessionHandler {
			acquired = session
			return handler
		},
	})

	payload := wire.LogonPayload{Status: wire.LogonStatusNew}.Marshal()
	frag := wire.NewFragment(wire.FragmentLogon, 0, 1, 1, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	sub, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, fixsession.StateActive, sub.Session.State)
	assert.Same(t, handler, sub.Handler)
	require.NotNil(t, acquired)
	assert.Equal(t, int64(1), acquired.ConnectionId)
}

func TestDispatcher_Logon_LibraryNotification_EmitsSessionExistsWithoutBinding(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateConnected)))

	var notified *fixsession.Session
	d := New(Dependencies{
		LibraryId:       1,
		Registry:        reg,
		Tracker:         tr,
		Liveness:        func(int64) *liveness.Detector { return nil },
		OnSessionExists: func(session *fixsession.Session) { notified = session },
	})

	payload := wire.LogonPayload{Status: wire.LogonStatusLibraryNotification}.Marshal()
	frag := wire.NewFragment(wire.FragmentLogon, 0, 1, 1, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	sub, ok := reg.Get(1)
	require.True(t, ok)
	assert.Nil(t, sub.Handler)
	require.NotNil(t, notified)
	assert.Equal(t, int64(1), notified.ConnectionId)
}

func TestDispatcher_Disconnect_DefaultClosesAndRemoves(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))

	var reason string
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnDisconnect: func(session *fixsession.Session, r string) fixsession.FlowControl {
			reason = r
			return fixsession.FlowContinue
		},
	})

	payload := wire.DisconnectPayload{Reason: "logout"}.Marshal()
	frag := wire.NewFragment(wire.FragmentDisconnect, 0, 1, 1, payload)
	buf := marshal(t, frag)

	flow := d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, fixsession.FlowContinue, flow)
	assert.Equal(t, "logout", reason)
	_, ok := reg.Get(1)
	assert.False(t, ok)
}

func TestDispatcher_Disconnect_AbortReinsertsForRedelivery(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))

	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnDisconnect: func(*fixsession.Session, string) fixsession.FlowControl {
			return fixsession.FlowAbort
		},
	})

	payload := wire.DisconnectPayload{Reason: "logout"}.Marshal()
	frag := wire.NewFragment(wire.FragmentDisconnect, 0, 1, 1, payload)
	buf := marshal(t, frag)

	flow := d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, fixsession.FlowAbort, flow)
	sub, ok := reg.Get(1)
	require.True(t, ok, "subscriber must be re-inserted for redelivery")
	assert.Equal(t, fixsession.StateActive, sub.Session.State)
}

func TestDispatcher_Error_UnmatchedReplyRoutesToOnError(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()

	var gotKind errs.Kind
	var gotMsg string
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnError: func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl {
			gotKind = kind
			gotMsg = msg
			return fixsession.FlowContinue
		},
	})

	payload := wire.ErrorPayload{Kind: uint8(errs.KindUnknownSession), Message: "no such session"}.Marshal()
	frag := wire.NewFragment(wire.FragmentError, 999, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, errs.KindUnknownSession, gotKind)
	assert.Equal(t, "no such session", gotMsg)
}

func TestDispatcher_NewSentPosition_InvokesOnSendCompleted(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()

	var gotPosition int64
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnSendCompleted: func(position int64) fixsession.FlowControl {
			gotPosition = position
			return fixsession.FlowContinue
		},
	})

	payload := wire.NewSentPositionPayload{Position: 4096}.Marshal()
	frag := wire.NewFragment(wire.FragmentNewSentPosition, 0, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, int64(4096), gotPosition)
}

func TestDispatcher_ControlNotification_ReportsUnknownIdsViaOnError(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))

	var gotKind errs.Kind
	var reported bool
	d := New(Dependencies{
		LibraryId: 1,
		Registry:  reg,
		Tracker:   tr,
		Liveness:  func(int64) *liveness.Detector { return nil },
		OnError: func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl {
			gotKind = kind
			reported = true
			return fixsession.FlowContinue
		},
	})

	payload := wire.ControlNotificationPayload{ConnectionIds: []int64{1, 99}}.Marshal()
	frag := wire.NewFragment(wire.FragmentControlNotification, 0, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.True(t, reported)
	assert.Equal(t, errs.KindUnknownSession, gotKind)
}

func TestDispatcher_Catchup_SetsSubscriberBufferCount(t *testing.T) {
	d, reg, _ := newTestDispatcher()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateActive)))

	payload := wire.CatchupPayload{MessageCount: 3}.Marshal()
	frag := wire.NewFragment(wire.FragmentCatchup, 0, 1, 1, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	sub, _ := reg.Get(1)
	assert.Equal(t, int32(3), sub.CatchupRemaining)
}

func TestDispatcher_DropsFragmentsAddressedToOtherLibraries(t *testing.T) {
	d, reg, _ := newTestDispatcher()
	payload := wire.ManageConnectionPayload{
		ConnectionId: 1, SurrogateId: 100, LocalCompId: "LIB", RemoteCompId: "ENGINE", Owned: true,
	}.Marshal()
	frag := wire.NewFragment(wire.FragmentManageConnection, 0, 2, 1, payload)
	buf := marshal(t, frag)

	flow := d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, fixsession.FlowContinue, flow)
	assert.Equal(t, 0, reg.Len(), "another tenant's session must not be registered")
}

func TestDispatcher_LogonFromOtherLibrary_EmitsSessionExists(t *testing.T) {
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(fixsession.CompleteSessionId{SurrogateId: 1}, 1, fixsession.StateConnected)))

	var notified *fixsession.Session
	d := New(Dependencies{
		LibraryId:       1,
		Registry:        reg,
		Tracker:         tr,
		Liveness:        func(int64) *liveness.Detector { return nil },
		OnSessionExists: func(session *fixsession.Session) { notified = session },
	})

	payload := wire.LogonPayload{Status: wire.LogonStatusNew}.Marshal()
	frag := wire.NewFragment(wire.FragmentLogon, 0, 9, 1, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	require.NotNil(t, notified)
	sub, _ := reg.Get(1)
	assert.Nil(t, sub.Handler, "no handler binding for a session another library owns")
}

type stubHandler struct{}

func (stubHandler) OnMessage(buf []byte, offset, length int, seqIdx int32, msgType string, tsNs int64, position int64) fixsession.FlowControl {
	return fixsession.FlowContinue
}
func (stubHandler) OnTimeout() {}

func TestDispatcher_NotLeader_HonorsLiveRedirect(t *testing.T) {
	var redirected string
	reg := fixsession.NewRegistry()
	tr := replytracker.NewTracker()
	id := tr.NextCorrelationId()
	d := New(Dependencies{
		LibraryId:            1,
		Registry:             reg,
		Tracker:              tr,
		Liveness:             func(int64) *liveness.Detector { return nil },
		ConnectCorrelationId: func() int64 { return id },
		OnNotLeader:          func(ch string) { redirected = ch },
	})
	h := tr.Register(id, time.Now(), time.Minute)

	payload := wire.NotLeaderPayload{LeaderChannel: "leader:9000"}.Marshal()
	frag := wire.NewFragment(wire.FragmentNotLeader, id, 1, 0, payload)
	buf := marshal(t, frag)

	d.Dispatch(buf, 0, len(buf), time.Now())

	assert.Equal(t, "leader:9000", redirected)
	assert.True(t, h.IsDone(), "the in-flight connect handle resolves so the controller re-enters connect")
}
