package demohost

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimbusbrowse/netwatch/internal/cdp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OnRequestWillBeSent satisfies cdp.DebugHost. Host fires this itself
// from ServeHTTP/ServeWS for every request it proxies, so subscription
// never fails.
func (h *Host) OnRequestWillBeSent(fn func(cdp.RequestWillBeSentEvent)) (cdp.Disposer, error) {
	h.mu.Lock()
	h.requestWillBeSentFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.requestWillBeSentFn = nil; h.mu.Unlock() }, nil
}

func (h *Host) OnWebSocketCreated(fn func(cdp.WebSocketCreatedEvent)) (cdp.Disposer, error) {
	h.mu.Lock()
	h.wsCreatedFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.wsCreatedFn = nil; h.mu.Unlock() }, nil
}

func (h *Host) OnWebSocketFrameSent(fn func(cdp.WebSocketFrameEvent)) (cdp.Disposer, error) {
	h.mu.Lock()
	h.wsSentFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.wsSentFn = nil; h.mu.Unlock() }, nil
}

func (h *Host) OnWebSocketFrameReceived(fn func(cdp.WebSocketFrameEvent)) (cdp.Disposer, error) {
	h.mu.Lock()
	h.wsReceivedFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.wsReceivedFn = nil; h.mu.Unlock() }, nil
}

// ServeWS upgrades the inbound client connection, dials targetURL as a
// second WebSocket client, and relays frames in both directions,
// emitting webSocketCreated and a frame event per relayed message so the
// diagnostic bridge observes the same traffic a real debugger channel
// would report.
func (h *Host) ServeWS(w http.ResponseWriter, r *http.Request, targetURL string) {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	reqHeader := make(http.Header)
	for name, values := range r.Header {
		switch strings.ToLower(name) {
		case "upgrade", "connection", "sec-websocket-key", "sec-websocket-version", "sec-websocket-extensions":
			continue
		default:
			for _, v := range values {
				reqHeader.Add(name, v)
			}
		}
	}

	upstreamConn, _, err := websocket.DefaultDialer.Dial(targetURL, reqHeader)
	if err != nil {
		clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer upstreamConn.Close()

	requestID := newRequestID()

	h.fire(func() {
		if h.requestWillBeSentFn != nil {
			h.requestWillBeSentFn(cdp.RequestWillBeSentEvent{RequestID: requestID, URL: targetURL})
		}
		if h.wsCreatedFn != nil {
			h.wsCreatedFn(cdp.WebSocketCreatedEvent{RequestID: requestID, URL: targetURL})
		}
	})

	done := make(chan struct{}, 2)
	go h.relay(clientConn, upstreamConn, requestID, "out", done)
	go h.relay(upstreamConn, clientConn, requestID, "in", done)
	<-done
}

// relay copies frames from src to dst until either side closes,
// firing the sent/received frame callback for each relayed message.
func (h *Host) relay(src, dst *websocket.Conn, requestID, direction string, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}

		h.fire(func() {
			ev := cdp.WebSocketFrameEvent{
				RequestID: requestID,
				OpCode:    msgType,
				Data:      string(data),
				Timestamp: time.Now().UnixMilli(),
			}
			if direction == "out" && h.wsSentFn != nil {
				h.wsSentFn(ev)
			} else if direction == "in" && h.wsReceivedFn != nil {
				h.wsReceivedFn(ev)
			}
		})

		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
