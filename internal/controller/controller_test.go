package controller

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusbrowse/netwatch/internal/capture"
	"github.com/nimbusbrowse/netwatch/internal/config"
)

// fakeInterceptor is a capture.BodyInterceptor test double driven
// synchronously, the same shape internal/capture's own tests use.
type fakeInterceptor struct {
	onData func([]byte)
	onEnd  func()
}

func (i *fakeInterceptor) OnData(fn func([]byte)) { i.onData = fn }
func (i *fakeInterceptor) OnEnd(fn func())        { i.onEnd = fn }
func (i *fakeInterceptor) OnError(fn func(error)) {}

type fakeHost struct {
	preRequest      func(capture.PreRequestEvent)
	preSendHeaders  func(capture.PreSendHeadersEvent)
	headersReceived func(capture.HeadersReceivedEvent)
	completed       func(capture.CompletedEvent)
	errorOccurred   func(capture.ErrorEvent)
}

func (h *fakeHost) OnPreRequest(fn func(capture.PreRequestEvent)) capture.Disposer {
	h.preRequest = fn
	return func() {}
}
func (h *fakeHost) OnPreSendHeaders(fn func(capture.PreSendHeadersEvent)) capture.Disposer {
	h.preSendHeaders = fn
	return func() {}
}
func (h *fakeHost) OnHeadersReceived(fn func(capture.HeadersReceivedEvent)) capture.Disposer {
	h.headersReceived = fn
	return func() {}
}
func (h *fakeHost) OnCompleted(fn func(capture.CompletedEvent)) capture.Disposer {
	h.completed = fn
	return func() {}
}
func (h *fakeHost) OnErrorOccurred(fn func(capture.ErrorEvent)) capture.Disposer {
	h.errorOccurred = fn
	return func() {}
}

func newTestController(t *testing.T) (*Controller, *fakeHost) {
	t.Helper()
	cfg := config.Default()
	cfg.OutputFolder = t.TempDir()
	host := &fakeHost{}
	return New(&cfg, host, nil, nil), host
}

func TestStartThenGetStateReportsCapturing(t *testing.T) {
	c, _ := newTestController(t)

	result, state := c.Start(nil)
	assert.True(t, result.OK)
	assert.True(t, state.Capturing)
	assert.NotEmpty(t, state.SessionDir)

	assert.True(t, c.GetState().Capturing)
}

func TestStartWhileCapturingReturnsCurrentStateWithoutRestarting(t *testing.T) {
	c, _ := newTestController(t)

	_, first := c.Start(nil)
	_, second := c.Start(nil)

	assert.Equal(t, first.SessionDir, second.SessionDir)
}

func TestStopWhenNotRunningReturnsNotRunning(t *testing.T) {
	c, _ := newTestController(t)

	result, _ := c.Stop()
	assert.False(t, result.OK)
	assert.Equal(t, "not-running", result.Reason)
}

func TestStopAfterStartFlushesAndClearsState(t *testing.T) {
	c, _ := newTestController(t)
	c.Start(nil)

	result, state := c.Stop()
	assert.True(t, result.OK)
	assert.False(t, state.Capturing)
	assert.False(t, c.GetState().Capturing)
}

func TestSubscribeReceivesStateBroadcastsOnStartAndStop(t *testing.T) {
	c, _ := newTestController(t)
	ch, unsub := c.Subscribe()
	defer unsub()

	c.Start(nil)
	select {
	case state := <-ch:
		assert.True(t, state.Capturing)
	case <-time.After(time.Second):
		t.Fatal("did not receive start broadcast")
	}

	c.Stop()
	select {
	case state := <-ch:
		assert.False(t, state.Capturing)
	case <-time.After(time.Second):
		t.Fatal("did not receive stop broadcast")
	}
}

func TestEngineEventsForwardToInspectorSink(t *testing.T) {
	c, host := newTestController(t)

	var received []string
	_, _ = c.Start(func(channel string, payload any) {
		received = append(received, channel)
	})

	host.preRequest(capture.PreRequestEvent{ID: "r1", Method: "GET", URL: "https://a.test/x"})
	host.preSendHeaders(capture.PreSendHeadersEvent{ID: "r1", Headers: map[string]string{"Accept": "*/*"}})
	host.headersReceived(capture.HeadersReceivedEvent{ID: "r1", Status: 200, Headers: map[string]string{"Content-Type": "application/json"}})
	host.completed(capture.CompletedEvent{ID: "r1"})

	require.Contains(t, received, capture.ChannelRestRequest)
	require.Contains(t, received, capture.ChannelRestBeforeSendHeaders)
	require.Contains(t, received, capture.ChannelRestResponse)
	require.Contains(t, received, capture.ChannelRestTxn)

	c.Stop()
}

func TestEngineEventsReshapeToInspectorWireSchema(t *testing.T) {
	c, host := newTestController(t)

	var payloads []any
	_, _ = c.Start(func(channel string, payload any) {
		payloads = append(payloads, payload)
	})

	host.preRequest(capture.PreRequestEvent{ID: "r1", Method: "GET", URL: "https://a.test/x"})
	host.preSendHeaders(capture.PreSendHeadersEvent{ID: "r1", Headers: map[string]string{
		"Authorization": "Bearer secret", "Accept": "*/*",
	}})
	host.headersReceived(capture.HeadersReceivedEvent{ID: "r1", Status: 200, StatusText: "OK", Headers: map[string]string{"Content-Type": "application/json"}})
	host.completed(capture.CompletedEvent{ID: "r1"})
	host.errorOccurred(capture.ErrorEvent{ID: "r2", Err: assertErr{"boom"}})

	var sawHeadersWire, sawResponseWire, sawErrorWire bool
	for _, p := range payloads {
		switch v := p.(type) {
		case restRequestWire:
			if v.Method == "GET" {
				sawHeadersWire = sawHeadersWire || v.ReqHeaders["accept"] == "*/*"
			}
		case restResponseWire:
			sawResponseWire = v.Status == 200 && v.StatusText == "OK" && v.Method == "GET"
		case restErrorWire:
			sawErrorWire = true
		}
	}
	assert.True(t, sawHeadersWire)
	assert.True(t, sawResponseWire)
	assert.True(t, sawErrorWire)

	c.Stop()
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// TestPersistedResponseBodyIsAttachedToHAREntry drives a real persisted
// body through the engine -> controller -> recorder wiring (not a direct
// session.NoteResponseBody call) and checks the written HAR archive's
// response gets a content._file reference to the saved body.
func TestPersistedResponseBodyIsAttachedToHAREntry(t *testing.T) {
	cfg := config.Default()
	cfg.OutputFolder = t.TempDir()
	cfg.CaptureBodies = true
	host := &fakeHost{}
	c := New(&cfg, host, nil, nil)

	result, state := c.Start(nil)
	require.True(t, result.OK)

	host.preRequest(capture.PreRequestEvent{ID: "r1", Method: "GET", URL: "https://api.example.com/y"})
	host.preSendHeaders(capture.PreSendHeadersEvent{ID: "r1", Headers: map[string]string{"Accept": "application/json"}})

	tap := &fakeInterceptor{}
	host.headersReceived(capture.HeadersReceivedEvent{
		ID:          "r1",
		Status:      200,
		StatusText:  "OK",
		Headers:     map[string]string{"Content-Type": "application/json"},
		Interceptor: tap,
	})
	tap.onData([]byte(`{"ok":true}`))
	tap.onEnd()
	host.completed(capture.CompletedEvent{ID: "r1"})

	_, _ = c.Stop()

	harPath, err := findHARFile(state.SessionDir)
	require.NoError(t, err)

	data, err := os.ReadFile(harPath)
	require.NoError(t, err)

	var archive struct {
		Log struct {
			Entries []struct {
				Response struct {
					Content struct {
						File string `json:"_file"`
					} `json:"content"`
				} `json:"response"`
			} `json:"entries"`
		} `json:"log"`
	}
	require.NoError(t, json.Unmarshal(data, &archive))
	require.Len(t, archive.Log.Entries, 1)
	assert.NotEmpty(t, archive.Log.Entries[0].Response.Content.File)
}

func findHARFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".har" {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}

func TestHandleFromWebviewUnknownChannelGoesToInspectorOnly(t *testing.T) {
	c, _ := newTestController(t)
	c.Start(nil)

	var got []string
	c.mu.Lock()
	c.inspectorSink = func(channel string, payload any) { got = append(got, channel) }
	c.mu.Unlock()

	c.HandleFromWebview(Envelope{Channel: "cdp:initiator", Payload: map[string]any{"requestId": "x"}})
	assert.Contains(t, got, "cdp:initiator")

	c.Stop()
}
