package fixsession

// Registry tracks every session owned by this library instance (C2, §4.2).
// It keeps a map for O(1) lookup by connectionId plus an insertion-order
// slice, mirroring the teacher's Hub registry (map of spokes plus a sequence
// used for deterministic iteration during broadcast/reconciliation passes).
type Registry struct {
	byConnectionId map[int64]*SessionSubscriber
	order          []int64
}

func NewRegistry() *Registry {
	return &Registry{
		byConnectionId: make(map[int64]*SessionSubscriber),
	}
}

// Add registers a newly-acquired session. Re-adding an existing
// connectionId replaces the entry but keeps its original position in order.
func (r *Registry) Add(sub *SessionSubscriber) {
	connId := sub.Session.ConnectionId
	if _, exists := r.byConnectionId[connId]; !exists {
		r.order = append(r.order, connId)
	}
	r.byConnectionId[connId] = sub
}

// Remove drops a session from both the map and the order slice (§8 invariant:
// disconnect removes a session from both structures atomically from the
// caller's point of view — there is no window where one reflects removal and
// the other doesn't, since both are mutated here before returning).
func (r *Registry) Remove(connectionId int64) {
	if _, exists := r.byConnectionId[connectionId]; !exists {
		return
	}
	delete(r.byConnectionId, connectionId)
	for i, id := range r.order {
		if id == connectionId {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(connectionId int64) (*SessionSubscriber, bool) {
	sub, ok := r.byConnectionId[connectionId]
	return sub, ok
}

func (r *Registry) Len() int { return len(r.order) }

// Range visits sessions in insertion order and stops early if fn returns
// false, the same early-exit convention the teacher uses when broadcasting
// to spokes.
func (r *Registry) Range(fn func(*SessionSubscriber) bool) {
	for _, id := range r.order {
		sub, ok := r.byConnectionId[id]
		if !ok {
			continue
		}
		if !fn(sub) {
			return
		}
	}
}

// PollAll drives housekeeping on every session once per tick (called from
// the Library Poller, C7).
func (r *Registry) PollAll(nowMs int64) {
	r.Range(func(sub *SessionSubscriber) bool {
		sub.Poll(nowMs)
		return true
	})
}

// Reconcile applies a ControlNotification's authoritative session-id set
// (§4.5, §4.2): any locally-owned session whose connectionId is absent from
// authoritative is force-closed and removed, since the engine no longer
// considers this library its owner. Reconciliation never invents local
// entries for ids present in authoritative but missing locally — those are
// reported back in unknown so the caller can surface them as an error (the
// engine believes this library owns a session it has no record of, a
// consistency violation rather than something to silently paper over).
func (r *Registry) Reconcile(authoritative map[int64]struct{}) (removed, unknown []int64) {
	for _, id := range append([]int64(nil), r.order...) {
		if _, ok := authoritative[id]; ok {
			continue
		}
		if sub, ok := r.byConnectionId[id]; ok {
			sub.Session.Close()
		}
		r.Remove(id)
		removed = append(removed, id)
	}
	for id := range authoritative {
		if _, ok := r.byConnectionId[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return removed, unknown
}
