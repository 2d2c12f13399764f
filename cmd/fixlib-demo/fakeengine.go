package main

import (
	"log/slog"
	"time"

	"github.com/ocx/fixlib/internal/transport"
	"github.com/ocx/fixlib/internal/wire"
)

// runFakeEngine stands in for the out-of-scope engine process (§1): it
// acknowledges every LibraryConnect it sees so the demo's controller can
// reach CONNECTED without a real counterparty.
func runFakeEngine(sub transport.Subscription, pub transport.Publication) {
	for {
		sub.Poll(func(buf []byte, offset, length int) bool {
			frag, err := wire.Unmarshal(buf, offset, length)
			if err != nil {
				return true
			}
			if frag.Header.Type == wire.FragmentLibraryConnect {
				ack := wire.NewFragment(wire.FragmentConnectAck, frag.Header.CorrelationId, frag.Header.LibraryId, 0, nil)
				encoded, err := ack.Marshal()
				if err != nil {
					slog.Error("fakeengine: marshal ack failed", "error", err)
					return true
				}
				pub.Offer(encoded)
			}
			return true
		}, 16)
		time.Sleep(10 * time.Millisecond)
	}
}
