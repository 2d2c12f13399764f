package adminserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/fixlib/internal/connect"
	"github.com/ocx/fixlib/internal/fixsession"
	"github.com/ocx/fixlib/internal/replytracker"
)

type fakeSource struct {
	reg   *fixsession.Registry
	tr    *replytracker.Tracker
	state connect.State
}

func (f *fakeSource) Registry() *fixsession.Registry { return f.reg }
func (f *fakeSource) Tracker() *replytracker.Tracker { return f.tr }
func (f *fakeSource) ControllerState() connect.State { return f.state }

func newTestSource() *fakeSource {
	reg := fixsession.NewRegistry()
	reg.Add(fixsession.NewSessionSubscriber(fixsession.NewSession(
		fixsession.CompleteSessionId{LocalCompId: "LIB", RemoteCompId: "ENGINE", SurrogateId: 100},
		7, fixsession.StateActive,
	)))
	return &fakeSource{reg: reg, tr: replytracker.NewTracker(), state: connect.StateConnected}
}

func TestHandleSessions_ReturnsRegisteredSessions(t *testing.T) {
	s := New(newTestSource(), nil)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, int64(100), views[0].SurrogateId)
	assert.Equal(t, "ACTIVE", views[0].State)
}

func TestHandleReplies_ReturnsOutstandingCount(t *testing.T) {
	source := newTestSource()
	source.tr.Register(source.tr.NextCorrelationId(), time.Now(), 0)
	s := New(source, nil)

	req := httptest.NewRequest(http.MethodGet, "/replies", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body["outstanding"])
}

func TestHandleController_ReportsControllerState(t *testing.T) {
	s := New(newTestSource(), nil)
	req := httptest.NewRequest(http.MethodGet, "/controller", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CONNECTED", body["state"])
}

func TestBroadcastTick_DeliversToBufferedClient(t *testing.T) {
	s := New(newTestSource(), nil)
	ch := make(chan []byte, 1)
	s.mu.Lock()
	s.clients[new(websocket.Conn)] = ch
	s.mu.Unlock()

	s.BroadcastTick(TickSummary{WorkCount: 3})

	select {
	case msg := <-ch:
		var summary TickSummary
		require.NoError(t, json.Unmarshal(msg, &summary))
		assert.Equal(t, 3, summary.WorkCount)
	default:
		t.Fatal("expected a broadcast message")
	}
}
