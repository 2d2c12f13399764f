// Command fixlib-demo wires the Connect/Failover Controller, Session
// Registry, Reply Tracker, Liveness Detector and Protocol Inbound
// Dispatcher together via internal/library.Poller against an in-memory
// transport, and drives the poll loop so the whole connector can be
// exercised without a real engine process.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ocx/fixlib/internal/adminserver"
	"github.com/ocx/fixlib/internal/config"
	"github.com/ocx/fixlib/internal/connect"
	"github.com/ocx/fixlib/internal/errs"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/library"
	"github.com/ocx/fixlib/internal/liveness"
	"github.com/ocx/fixlib/internal/metrics"
	"github.com/ocx/fixlib/internal/transport/memtransport"
)

// loggingSessionHandler is the demo's stand-in for the out-of-scope FIX
// application state machine collaborator (§1): it logs inbound messages and
// timeouts rather than parsing/replying to them.
type loggingSessionHandler struct {
	connectionId int64
}

func (h loggingSessionHandler) OnMessage(buf []byte, offset, length int, seqIdx int32, msgType string, tsNs int64, position int64) fixsession.FlowControl {
	slog.Debug("message received", "connectionId", h.connectionId, "seqIdx", seqIdx, "length", length)
	return fixsession.FlowContinue
}

func (h loggingSessionHandler) OnTimeout() {
	slog.Warn("session timeout", "connectionId", h.connectionId)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	channel := memtransport.NewChannel(1024)
	sub, pub := channel.LibrarySide()
	engineSub, enginePub := channel.EngineSide()
	go runFakeEngine(engineSub, enginePub)

	m := metrics.New("fixlib")

	poller := library.NewPoller(library.Config{
		LibraryId:         cfg.Library.LibraryID,
		Source:            connect.NewStaticEndpointSource(cfg.Engines.Channels),
		ReconnectAttempts: cfg.Reconnect.ReconnectAttempts,
		ReplyTimeout:      cfg.Reconnect.ReplyTimeout(),
		LivenessTimeout:   cfg.Liveness.Timeout(),
		Sub:               sub,
		Pub:               pub,
		Metrics:           m,
		OnConnected: func(ch string) {
			slog.Info("connected", "channel", ch)
		},
		OnLivenessChange: func(connectionId int64, from, to liveness.State) {
			slog.Info("liveness transition", "connectionId", connectionId, "from", from, "to", to)
		},
		OnSessionAcquired: func(session *fixsession.Session) fixsession.SessionHandler {
			slog.Info("session acquired", "connectionId", session.ConnectionId, "surrogateId", session.SurrogateId())
			return loggingSessionHandler{connectionId: session.ConnectionId}
		},
		OnSessionExists: func(session *fixsession.Session) {
			slog.Info("session exists elsewhere", "connectionId", session.ConnectionId)
		},
		OnDisconnect: func(session *fixsession.Session, reason string) fixsession.FlowControl {
			slog.Info("session disconnected", "connectionId", session.ConnectionId, "reason", reason)
			return fixsession.FlowContinue
		},
		OnSlowStatus: func(session *fixsession.Session, isSlow bool) {
			slog.Warn("publication slow", "connectionId", session.ConnectionId, "isSlow", isSlow)
		},
		OnSendCompleted: func(position int64) fixsession.FlowControl {
			slog.Debug("send completed", "position", position)
			return fixsession.FlowContinue
		},
		OnError: func(kind errs.Kind, libraryId int32, msg string) fixsession.FlowControl {
			slog.Error("connector error", "kind", kind, "libraryId", libraryId, "msg", msg)
			return fixsession.FlowContinue
		},
	})

	var admin *adminserver.Server
	if cfg.Admin.Enabled {
		admin = adminserver.New(poller, m)
		go func() {
			slog.Info("admin server listening", "addr", cfg.Admin.Addr)
			if err := http.ListenAndServe(cfg.Admin.Addr, admin.Handler()); err != nil {
				slog.Error("admin server stopped", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		work := poller.Poll(cfg.Library.FragmentLimit)
		if admin != nil {
			admin.BroadcastTick(adminserver.TickSummary{
				At:                 time.Now(),
				WorkCount:          work,
				SessionsActive:     poller.Registry().Len(),
				RepliesOutstanding: poller.Tracker().Len(),
				ControllerState:    poller.ControllerState().String(),
			})
		}
	}
}
