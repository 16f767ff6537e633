package cdp

import (
	"sync"

	"github.com/nimbusbrowse/netwatch/internal/logging"
)

// Bridge tracks redirect chains/initiators per requestId and WebSocket
// urls per requestId, emitting cdp:initiator and ws:frame on its sink.
type Bridge struct {
	log *logging.Logger

	mu       sync.Mutex
	requests map[string]*trackedRequest
	wsURLs   map[string]string

	sink EventSink
}

// New returns an unattached Bridge.
func New(log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Nop()
	}
	return &Bridge{
		log:      log,
		requests: make(map[string]*trackedRequest),
		wsURLs:   make(map[string]string),
	}
}

// Attach subscribes to all four message kinds on host. If the first
// subscription fails, the bridge assumes the channel is unavailable and
// returns a no-op disposer with ok=false; the caller continues without
// diagnostic data. Any subscriptions that did succeed before a later
// one failed are torn down.
func (b *Bridge) Attach(host DebugHost, sink EventSink) (Disposer, bool) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()

	var disposers []Disposer

	dReq, err := host.OnRequestWillBeSent(b.handleRequestWillBeSent)
	if err != nil {
		b.log.Warn("diagnostic channel unavailable, continuing without it")
		return noop, false
	}
	disposers = append(disposers, dReq)

	dWSCreate, err := host.OnWebSocketCreated(b.handleWebSocketCreated)
	if err != nil {
		teardown(disposers)
		b.log.Warn("diagnostic channel webSocket-created subscription failed")
		return noop, false
	}
	disposers = append(disposers, dWSCreate)

	dWSSent, err := host.OnWebSocketFrameSent(b.handleFrame("out"))
	if err != nil {
		teardown(disposers)
		b.log.Warn("diagnostic channel webSocket-frame-sent subscription failed")
		return noop, false
	}
	disposers = append(disposers, dWSSent)

	dWSRecv, err := host.OnWebSocketFrameReceived(b.handleFrame("in"))
	if err != nil {
		teardown(disposers)
		b.log.Warn("diagnostic channel webSocket-frame-received subscription failed")
		return noop, false
	}
	disposers = append(disposers, dWSRecv)

	var once sync.Once
	return func() {
		once.Do(func() {
			teardown(disposers)
			b.mu.Lock()
			b.requests = make(map[string]*trackedRequest)
			b.wsURLs = make(map[string]string)
			b.sink = nil
			b.mu.Unlock()
		})
	}, true
}

func noop() {}

func teardown(disposers []Disposer) {
	for _, d := range disposers {
		d()
	}
}

func (b *Bridge) emit(channel string, payload any) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink(channel, payload)
}

func (b *Bridge) handleRequestWillBeSent(ev RequestWillBeSentEvent) {
	b.mu.Lock()
	tr, ok := b.requests[ev.RequestID]
	if !ok {
		tr = &trackedRequest{}
		b.requests[ev.RequestID] = tr
	}
	previousURL := tr.url
	tr.url = ev.URL
	if ev.Initiator != nil {
		tr.initiator = &initiatorPayload{Type: ev.Initiator.Type, URL: ev.Initiator.URL}
	}
	if ev.Redirect != nil && previousURL != "" {
		tr.redirectChain = append(tr.redirectChain, redirectEntry{
			From:   previousURL,
			To:     ev.URL,
			Status: ev.Redirect.Status,
		})
	}

	payload := map[string]any{
		"requestId":     ev.RequestID,
		"url":           tr.url,
		"redirectChain": tr.redirectChain,
	}
	if tr.initiator != nil {
		payload["initiator"] = tr.initiator
	}
	b.mu.Unlock()

	b.emit(ChannelInitiator, payload)
}

func (b *Bridge) handleWebSocketCreated(ev WebSocketCreatedEvent) {
	b.mu.Lock()
	b.wsURLs[ev.RequestID] = ev.URL
	b.mu.Unlock()
}

func (b *Bridge) handleFrame(direction string) func(WebSocketFrameEvent) {
	return func(ev WebSocketFrameEvent) {
		b.mu.Lock()
		url := b.wsURLs[ev.RequestID]
		b.mu.Unlock()

		payload := map[string]any{
			"ts":        ev.Timestamp,
			"direction": direction,
		}
		if url != "" {
			payload["url"] = url
		}
		payload["opCode"] = ev.OpCode
		payload["data"] = ev.Data

		b.emit(ChannelWSFrame, payload)
	}
}
