// Package replytracker implements the Reply Tracker (C3, §4.3): it
// correlates an async request sent to the engine with the eventual reply
// fragment, using a random-seeded monotonic 64-bit correlation id and a
// per-reply deadline. The pending-item-map-with-resolution shape is grounded
// on the teacher's escrow.Gate pending-approval map, adapted from a
// goroutine/channel wait to the single-threaded poll-and-sweep model this
// connector uses everywhere (§5).
package replytracker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ocx/fixlib/internal/errs"
)

// Status is a ReplyHandle's terminal/non-terminal state (§4.3 invariant:
// exactly one terminal transition ever fires per handle).
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusErrored
	StatusTimedOut
)

// ReplyHandle is returned to a caller for every async operation (requestSession,
// initiateConnection, releaseSession, §4.8) and polled or awaited by them.
type ReplyHandle struct {
	CorrelationId int64
	Status        Status

	Result   any
	Err      error
	deadline time.Time
}

func (h *ReplyHandle) IsDone() bool { return h.Status != StatusPending }

// Tracker owns every outstanding ReplyHandle. All methods are called from
// the single poller thread (C8) — no locking is required for the map itself,
// but the correlation-id generator below is exported for use by callers that
// may mint ids off the poller thread before a request is actually sent, so
// it guards itself independently.
type Tracker struct {
	pending   map[int64]*ReplyHandle
	counter   int64
	counterMu sync.Mutex
}

func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[int64]*ReplyHandle),
		counter: rand.Int63(),
	}
}

// NextCorrelationId pre-increments the counter and returns it: ids are
// monotonically increasing from a random positive seed drawn once at
// construction (§GLOSSARY). The random start keeps ids minted across process
// restarts from colliding with ones the engine may still hold from a
// previous run; monotonicity is what makes stale-reply filtering by id
// comparison meaningful (§4.5 NotLeader). The wraparound guard keeps ids
// positive and non-zero — zero is reserved to mean "no correlation".
func (t *Tracker) NextCorrelationId() int64 {
	t.counterMu.Lock()
	defer t.counterMu.Unlock()
	t.counter++
	if t.counter <= 0 {
		t.counter = 1
	}
	return t.counter
}

// Register starts tracking a new outstanding request. timeout <= 0 means the
// handle never expires on its own (only resolved by a matching reply).
func (t *Tracker) Register(correlationId int64, now time.Time, timeout time.Duration) *ReplyHandle {
	h := &ReplyHandle{CorrelationId: correlationId, Status: StatusPending}
	if timeout > 0 {
		h.deadline = now.Add(timeout)
	}
	t.pending[correlationId] = h
	return h
}

// Complete resolves a pending handle successfully. Returns false if no such
// handle is outstanding (late/duplicate reply, §8 idempotency — the dispatcher
// must tolerate this).
func (t *Tracker) Complete(correlationId int64, result any) bool {
	h, ok := t.pending[correlationId]
	if !ok || h.IsDone() {
		return false
	}
	h.Status = StatusCompleted
	h.Result = result
	delete(t.pending, correlationId)
	return true
}

// Fail resolves a pending handle with an engine-reported error (§7).
func (t *Tracker) Fail(correlationId int64, kind errs.Kind, msg string) bool {
	h, ok := t.pending[correlationId]
	if !ok || h.IsDone() {
		return false
	}
	h.Status = StatusErrored
	h.Err = errs.New(kind, 0, msg)
	delete(t.pending, correlationId)
	return true
}

// Get looks up a pending handle without resolving it. A handle that has
// already been completed, failed or timed out is no longer found.
func (t *Tracker) Get(correlationId int64) (*ReplyHandle, bool) {
	h, ok := t.pending[correlationId]
	return h, ok
}

// SweepTimeouts resolves every pending handle whose deadline has passed.
// Safe to call while handles are being added/removed concurrently within
// the same poll tick since it snapshots candidate ids before mutating (the
// same "collect then remove" shape the teacher uses when sweeping escrow
// holds, which avoids mutating a map mid-range).
func (t *Tracker) SweepTimeouts(now time.Time) []int64 {
	var expired []int64
	for id, h := range t.pending {
		if h.deadline.IsZero() {
			continue
		}
		if now.After(h.deadline) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		h := t.pending[id]
		h.Status = StatusTimedOut
		h.Err = errs.New(errs.KindTimedOut, 0, "reply deadline exceeded")
		delete(t.pending, id)
	}
	return expired
}

// Len reports outstanding handle count, used by admin/metrics surfaces.
func (t *Tracker) Len() int { return len(t.pending) }

// FailAll resolves every outstanding handle as CLOSED, used when the library
// instance itself is being shut down (§7 KindClosed).
func (t *Tracker) FailAll() {
	for id, h := range t.pending {
		h.Status = StatusErrored
		h.Err = errs.New(errs.KindClosed, 0, "library closed")
		delete(t.pending, id)
	}
}
