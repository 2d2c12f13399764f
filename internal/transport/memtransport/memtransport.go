// Package memtransport is an in-memory Subscription/Publication pair used to
// exercise the connector end to end in tests without a real engine process.
package memtransport

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/ocx/fixlib/internal/transport"
)

// Channel is a bidirectional in-memory link: Publication.Offer on one side
// enqueues into the other side's Subscription.Poll queue, FIFO.
type Channel struct {
	toEngine  *queue
	toLibrary *queue
	queueCap  int
	closed    bool
}

func NewChannel(queueCap int) *Channel {
	return &Channel{
		toEngine:  newQueue(queueCap),
		toLibrary: newQueue(queueCap),
		queueCap:  queueCap,
	}
}

// LibrarySide returns the Subscription/Publication pair the library polls.
func (c *Channel) LibrarySide() (transport.Subscription, transport.Publication) {
	return &subscription{q: c.toLibrary}, &publication{q: c.toEngine, closed: &c.closed}
}

// EngineSide returns the Subscription/Publication pair a test's fake engine
// polls, letting it observe what the library sent and inject replies.
func (c *Channel) EngineSide() (transport.Subscription, transport.Publication) {
	return &subscription{q: c.toEngine}, &publication{q: c.toLibrary, closed: &c.closed}
}

type queue struct {
	items [][]byte
	cap   int
}

func newQueue(cap int) *queue {
	return &queue{cap: cap}
}

func (q *queue) push(b []byte) int64 {
	if len(q.items) >= q.cap {
		return transport.BackPressured
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	q.items = append(q.items, cp)
	slog.Debug("memtransport: enqueued fragment", "trace", uuid.New().String(), "bytes", len(cp))
	return int64(len(q.items))
}

type subscription struct {
	q *queue
}

func (s *subscription) Poll(handler transport.FragmentHandler, fragmentLimit int) int {
	delivered := 0
	for delivered < fragmentLimit && len(s.q.items) > 0 {
		item := s.q.items[0]
		if !handler(item, 0, len(item)) {
			break
		}
		s.q.items = s.q.items[1:]
		delivered++
	}
	return delivered
}

func (s *subscription) Close() error { return nil }

type publication struct {
	q      *queue
	closed *bool
}

func (p *publication) Offer(payload []byte) int64 {
	if *p.closed {
		return transport.Closed
	}
	return p.q.push(payload)
}

func (p *publication) Close() error { return nil }
