package fixsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(connId, surrogateId int64) *SessionSubscriber {
	id := CompleteSessionId{LocalCompId: "LIB", RemoteCompId: "ENGINE", SurrogateId: surrogateId}
	return NewSessionSubscriber(NewSession(id, connId, StateConnected))
}

func TestRegistry_AddGet(t *testing.T) {
	r := NewRegistry()
	sub := newTestSession(1, 100)
	r.Add(sub)

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Session.SurrogateId())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Remove_DropsFromMapAndOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession(1, 100))
	r.Add(newTestSession(2, 200))

	r.Remove(1)

	_, ok := r.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	var seen []int64
	r.Range(func(sub *SessionSubscriber) bool {
		seen = append(seen, sub.Session.ConnectionId)
		return true
	})
	assert.Equal(t, []int64{2}, seen)
}

func TestRegistry_Range_PreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession(3, 300))
	r.Add(newTestSession(1, 100))
	r.Add(newTestSession(2, 200))

	var order []int64
	r.Range(func(sub *SessionSubscriber) bool {
		order = append(order, sub.Session.ConnectionId)
		return true
	})
	assert.Equal(t, []int64{3, 1, 2}, order)
}

func TestRegistry_Reconcile_RemovesSessionsNotInAuthoritativeSet(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession(1, 100))
	r.Add(newTestSession(2, 200))
	r.Add(newTestSession(3, 300))

	authoritative := map[int64]struct{}{2: {}}
	removed, unknown := r.Reconcile(authoritative)

	assert.ElementsMatch(t, []int64{1, 3}, removed)
	assert.Empty(t, unknown)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(2)
	assert.True(t, ok)
}

func TestRegistry_Reconcile_NeverAddsMissingSessions(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession(1, 100))

	authoritative := map[int64]struct{}{1: {}, 99: {}}
	removed, unknown := r.Reconcile(authoritative)

	assert.Empty(t, removed)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(99)
	assert.False(t, ok)
	assert.Equal(t, []int64{99}, unknown)
}

func TestRegistry_Reconcile_ReportsUnknownAuthoritativeIds(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestSession(1001, 100))
	r.Add(newTestSession(1002, 200))

	authoritative := map[int64]struct{}{1001: {}, 1002: {}, 1003: {}}
	removed, unknown := r.Reconcile(authoritative)

	assert.Empty(t, removed)
	assert.Equal(t, []int64{1003}, unknown)
	assert.Equal(t, 2, r.Len())
}

func TestSessionSubscriber_Deliver_BuffersDuringCatchup(t *testing.T) {
	sub := newTestSession(1, 100)
	sub.CatchupRemaining = 2

	flow := sub.Deliver(nil, 0, 0, 1, "", 0, 0)
	assert.Equal(t, FlowContinue, flow)
	assert.Equal(t, int32(1), sub.CatchupRemaining)
}
