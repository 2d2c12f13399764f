// Package adminserver exposes a read-only operational status surface over
// HTTP/WebSocket: the session registry, outstanding reply handles, and a
// live feed of poller-tick summaries. Routing follows the teacher's
// cmd/server gorilla/mux usage, and the event stream follows
// fabric.WebSocketSpoke's upgrade-then-fan-out-over-a-channel shape, trimmed
// to a single broadcast-only feed since this is visibility, not a spoke
// registration surface.
package adminserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/fixlib/internal/connect"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/metrics"
	"github.com/ocx/fixlib/internal/replytracker"
)

// StatusSource is the read-only view the admin server reports on; the
// caller's library.Poller satisfies this directly.
type StatusSource interface {
	Registry() *fixsession.Registry
	Tracker() *replytracker.Tracker
	ControllerState() connect.State
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	router  *mux.Router
	source  StatusSource
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func New(source StatusSource, m *metrics.Metrics) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		source:  source,
		metrics: m,
		clients: make(map[*websocket.Conn]chan []byte),
	}
	s.router.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/replies", s.handleReplies).Methods(http.MethodGet)
	s.router.HandleFunc("/controller", s.handleController).Methods(http.MethodGet)
	s.router.HandleFunc("/stream", s.handleStream)
	if m != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type sessionView struct {
	ConnectionId int64  `json:"connectionId"`
	SurrogateId  int64  `json:"surrogateId"`
	LocalCompId  string `json:"localCompId"`
	RemoteCompId string `json:"remoteCompId"`
	State        string `json:"state"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	var views []sessionView
	s.source.Registry().Range(func(sub *fixsession.SessionSubscriber) bool {
		views = append(views, sessionView{
			ConnectionId: sub.Session.ConnectionId,
			SurrogateId:  sub.Session.SurrogateId(),
			LocalCompId:  sub.Session.Identity.LocalCompId,
			RemoteCompId: sub.Session.Identity.RemoteCompId,
			State:        sub.Session.State.String(),
		})
		return true
	})
	writeJSON(w, views)
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"outstanding": s.source.Tracker().Len()})
}

func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"state": s.source.ControllerState().String()})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("adminserver: websocket upgrade failed", "error", err)
		return
	}
	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// TickSummary is broadcast to every connected /stream client once per
// poller tick, fed by the caller after each Poll call.
type TickSummary struct {
	At                 time.Time `json:"at"`
	WorkCount          int       `json:"workCount"`
	SessionsActive     int       `json:"sessionsActive"`
	RepliesOutstanding int       `json:"repliesOutstanding"`
	ControllerState    string    `json:"controllerState"`
}

func (s *Server) BroadcastTick(summary TickSummary) {
	b, err := json.Marshal(summary)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- b:
		default:
			slog.Warn("adminserver: slow stream client, dropping tick", "remote", conn.RemoteAddr())
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
