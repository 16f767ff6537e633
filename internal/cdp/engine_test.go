package cdp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDebugHost struct {
	requestWillBeSent func(RequestWillBeSentEvent)
	wsCreated         func(WebSocketCreatedEvent)
	wsSent            func(WebSocketFrameEvent)
	wsReceived        func(WebSocketFrameEvent)

	failOn string
}

func (h *fakeDebugHost) OnRequestWillBeSent(fn func(RequestWillBeSentEvent)) (Disposer, error) {
	if h.failOn == "request" {
		return nil, errors.New("already attached")
	}
	h.requestWillBeSent = fn
	return func() { h.requestWillBeSent = nil }, nil
}

func (h *fakeDebugHost) OnWebSocketCreated(fn func(WebSocketCreatedEvent)) (Disposer, error) {
	if h.failOn == "wscreated" {
		return nil, errors.New("version mismatch")
	}
	h.wsCreated = fn
	return func() { h.wsCreated = nil }, nil
}

func (h *fakeDebugHost) OnWebSocketFrameSent(fn func(WebSocketFrameEvent)) (Disposer, error) {
	h.wsSent = fn
	return func() { h.wsSent = nil }, nil
}

func (h *fakeDebugHost) OnWebSocketFrameReceived(fn func(WebSocketFrameEvent)) (Disposer, error) {
	h.wsReceived = fn
	return func() { h.wsReceived = nil }, nil
}

type sinkRecorder struct {
	events []struct {
		channel string
		payload any
	}
}

func (r *sinkRecorder) sink(channel string, payload any) {
	r.events = append(r.events, struct {
		channel string
		payload any
	}{channel, payload})
}

func TestBridgeAttachFailureReturnsNoOp(t *testing.T) {
	b := New(nil)
	host := &fakeDebugHost{failOn: "request"}
	rec := &sinkRecorder{}

	disposer, ok := b.Attach(host, rec.sink)
	assert.False(t, ok)
	require.NotNil(t, disposer)
	assert.NotPanics(t, func() { disposer() })
}

func TestBridgeEmitsInitiatorWithRedirectChain(t *testing.T) {
	b := New(nil)
	host := &fakeDebugHost{}
	rec := &sinkRecorder{}

	disposer, ok := b.Attach(host, rec.sink)
	require.True(t, ok)
	defer disposer()

	host.requestWillBeSent(RequestWillBeSentEvent{
		RequestID: "req1",
		URL:       "https://a.test/start",
		Initiator: &Initiator{Type: "script", URL: "https://a.test/app.js"},
	})
	host.requestWillBeSent(RequestWillBeSentEvent{
		RequestID: "req1",
		URL:       "https://a.test/final",
		Redirect:  &RedirectResponse{Status: 302},
	})

	require.Len(t, rec.events, 2)
	last := rec.events[1].payload.(map[string]any)
	assert.Equal(t, "https://a.test/final", last["url"])
	chain := last["redirectChain"].([]redirectEntry)
	require.Len(t, chain, 1)
	assert.Equal(t, "https://a.test/start", chain[0].From)
	assert.Equal(t, "https://a.test/final", chain[0].To)
	assert.Equal(t, 302, chain[0].Status)
}

func TestBridgeWebSocketFrameCarriesURLAndDirection(t *testing.T) {
	b := New(nil)
	host := &fakeDebugHost{}
	rec := &sinkRecorder{}

	_, ok := b.Attach(host, rec.sink)
	require.True(t, ok)

	host.wsCreated(WebSocketCreatedEvent{RequestID: "ws1", URL: "wss://a.test/socket"})
	host.wsSent(WebSocketFrameEvent{RequestID: "ws1", OpCode: 1, Data: "ping", Timestamp: 5})
	host.wsReceived(WebSocketFrameEvent{RequestID: "ws1", OpCode: 1, Data: "pong", Timestamp: 6})

	require.Len(t, rec.events, 2)
	out := rec.events[0].payload.(map[string]any)
	assert.Equal(t, "out", out["direction"])
	assert.Equal(t, "wss://a.test/socket", out["url"])

	in := rec.events[1].payload.(map[string]any)
	assert.Equal(t, "in", in["direction"])
}

func TestBridgeDetachIsIdempotent(t *testing.T) {
	b := New(nil)
	host := &fakeDebugHost{}
	disposer, ok := b.Attach(host, nil)
	require.True(t, ok)
	assert.NotPanics(t, func() {
		disposer()
		disposer()
	})
}
