package inspector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusbrowse/netwatch/internal/capture"
	"github.com/nimbusbrowse/netwatch/internal/config"
	"github.com/nimbusbrowse/netwatch/internal/controller"
)

type fakeHost struct {
	errorOccurred func(capture.ErrorEvent)
}

func (h *fakeHost) OnPreRequest(fn func(capture.PreRequestEvent)) capture.Disposer { return func() {} }
func (h *fakeHost) OnPreSendHeaders(fn func(capture.PreSendHeadersEvent)) capture.Disposer {
	return func() {}
}
func (h *fakeHost) OnHeadersReceived(fn func(capture.HeadersReceivedEvent)) capture.Disposer {
	return func() {}
}
func (h *fakeHost) OnCompleted(fn func(capture.CompletedEvent)) capture.Disposer { return func() {} }
func (h *fakeHost) OnErrorOccurred(fn func(capture.ErrorEvent)) capture.Disposer {
	h.errorOccurred = fn
	return func() {}
}

func newTestServer(t *testing.T) (*Server, *controller.Controller) {
	t.Helper()
	cfg := config.Default()
	cfg.OutputFolder = t.TempDir()
	ctrl := controller.New(&cfg, &fakeHost{}, nil, nil)
	return New(&cfg, ctrl, nil), ctrl
}

func TestHealthEndpointReportsOK(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestStartStopStateHandlersRoundtrip(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	startRec := httptest.NewRecorder()
	s.handleStart(startRec, httptest.NewRequest(http.MethodPost, "/api/start", nil))
	assert.Equal(t, http.StatusOK, startRec.Code)
	assert.Contains(t, startRec.Body.String(), `"ok":true`)

	stateRec := httptest.NewRecorder()
	s.handleGetState(stateRec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var state map[string]any
	require.NoError(t, json.Unmarshal(stateRec.Body.Bytes(), &state))
	assert.Equal(t, true, state["capturing"])

	stopRec := httptest.NewRecorder()
	s.handleStop(stopRec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	assert.Equal(t, http.StatusOK, stopRec.Code)
	assert.Contains(t, stopRec.Body.String(), `"ok":true`)
}

func TestStartHandlerRejectsNonPost(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	rec := httptest.NewRecorder()
	s.handleStart(rec, httptest.NewRequest(http.MethodGet, "/api/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebSocketPushesStateBroadcastOnStart(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	stateCh, unsub := s.ctrl.Subscribe()
	defer unsub()
	go func() {
		for state := range stateCh {
			s.hub.Broadcast("state", state)
		}
	}()

	wsServer := httptest.NewServer(http.HandlerFunc(s.hub.ServeWS))
	defer wsServer.Close()

	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	s.ctrl.Start(nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "state", env.Channel)

	s.ctrl.Stop()
}

func TestInboundFrameForwardsToControllerHandleFromWebview(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()
	s.ctrl.Start(nil)
	defer s.ctrl.Stop()

	env := Envelope{Channel: "cdp:initiator", Payload: map[string]any{"requestId": "abc"}}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	s.handleInboundFrame(data)
}

func TestInboundFrameDiscardsMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)
	go s.hub.Run()

	s.handleInboundFrame([]byte("not json"))
}
