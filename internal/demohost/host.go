// Package demohost provides a concrete NavigationHost used for local
// development and demos: a
// plain HTTP forward proxy with no TLS interception (TLS MITM is an
// explicit Non-goal) plus a gorilla/websocket relay exercising the
// diagnostic bridge's ws:frame channel end to end.
//
// Adapted from the teacher's internal/proxy/proxy_server.go
// handleRequest/captureRequest/forwardRequest/copyResponse flow and
// internal/driven/http.go's header-cloning helpers, generalized from a
// storage-writing MITM proxy into a pure NavigationHost driver: this
// package performs the I/O; internal/capture owns all capture
// semantics.
package demohost

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusbrowse/netwatch/internal/capture"
	"github.com/nimbusbrowse/netwatch/internal/cdp"
)

const tapChunkSize = 32 * 1024

// Host is a forward HTTP proxy that also implements cdp.DebugHost,
// since its own instrumentation is the only source of initiator/redirect
// and WebSocket frame data available to this reference implementation.
type Host struct {
	client *http.Client

	mu                sync.Mutex
	preRequestFn      func(capture.PreRequestEvent)
	preSendHeadersFn  func(capture.PreSendHeadersEvent)
	headersReceivedFn func(capture.HeadersReceivedEvent)
	completedFn       func(capture.CompletedEvent)
	errorFn           func(capture.ErrorEvent)

	requestWillBeSentFn func(cdp.RequestWillBeSentEvent)
	wsCreatedFn         func(cdp.WebSocketCreatedEvent)
	wsSentFn            func(cdp.WebSocketFrameEvent)
	wsReceivedFn        func(cdp.WebSocketFrameEvent)
}

// New returns a Host whose outbound requests use the given timeout.
// Redirects are not followed automatically — the caller observes each
// hop as its own captured transaction, mirroring the teacher's
// CheckRedirect: http.ErrUseLastResponse choice.
func New(timeout time.Duration) *Host {
	return &Host{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *Host) OnPreRequest(fn func(capture.PreRequestEvent)) capture.Disposer {
	h.mu.Lock()
	h.preRequestFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.preRequestFn = nil; h.mu.Unlock() }
}

func (h *Host) OnPreSendHeaders(fn func(capture.PreSendHeadersEvent)) capture.Disposer {
	h.mu.Lock()
	h.preSendHeadersFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.preSendHeadersFn = nil; h.mu.Unlock() }
}

func (h *Host) OnHeadersReceived(fn func(capture.HeadersReceivedEvent)) capture.Disposer {
	h.mu.Lock()
	h.headersReceivedFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.headersReceivedFn = nil; h.mu.Unlock() }
}

func (h *Host) OnCompleted(fn func(capture.CompletedEvent)) capture.Disposer {
	h.mu.Lock()
	h.completedFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.completedFn = nil; h.mu.Unlock() }
}

func (h *Host) OnErrorOccurred(fn func(capture.ErrorEvent)) capture.Disposer {
	h.mu.Lock()
	h.errorFn = fn
	h.mu.Unlock()
	return func() { h.mu.Lock(); h.errorFn = nil; h.mu.Unlock() }
}

// ServeHTTP proxies r to its own URL (r must carry an absolute URL or a
// Host header, as an HTTP forward proxy client would send), firing the
// NavigationHost callbacks around the round trip: pre-request,
// pre-send-headers, headers-received and completed, with error-occurred
// in place of the later ones when the round trip fails. WebSocket
// upgrade requests are handed off to ServeWS instead.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT (TLS interception) is not supported by this host", http.StatusNotImplemented)
		return
	}

	targetURL := r.URL.String()
	if !r.URL.IsAbs() {
		scheme := "http"
		targetURL = scheme + "://" + r.Host + r.RequestURI
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		wsTarget := "ws" + strings.TrimPrefix(targetURL, "http")
		h.ServeWS(w, r, wsTarget)
		return
	}

	id := newRequestID()

	body, _ := io.ReadAll(r.Body)
	r.Body.Close()

	h.fire(func() {
		if h.preRequestFn != nil {
			h.preRequestFn(capture.PreRequestEvent{ID: id, Method: r.Method, URL: targetURL, UploadBody: body})
		}
		if h.requestWillBeSentFn != nil {
			h.requestWillBeSentFn(cdp.RequestWillBeSentEvent{RequestID: id, URL: targetURL})
		}
	})

	req, err := http.NewRequest(r.Method, targetURL, strings.NewReader(string(body)))
	if err != nil {
		h.fireError(id, err)
		http.Error(w, "bad request: "+err.Error(), http.StatusBadGateway)
		return
	}
	for name, values := range r.Header {
		if name == "Proxy-Connection" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	h.fire(func() {
		if h.preSendHeadersFn != nil {
			h.preSendHeadersFn(capture.PreSendHeadersEvent{ID: id, Headers: flattenHeader(req.Header)})
		}
	})

	resp, err := h.client.Do(req)
	if err != nil {
		h.fireError(id, err)
		http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	tap := &bodyTap{}
	h.fire(func() {
		if h.headersReceivedFn != nil {
			h.headersReceivedFn(capture.HeadersReceivedEvent{
				ID:          id,
				Status:      resp.StatusCode,
				StatusText:  http.StatusText(resp.StatusCode),
				Headers:     flattenHeader(resp.Header),
				Interceptor: tap,
			})
		}
	})

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	streamErr := streamTapped(w, resp.Body, tap)
	if streamErr != nil {
		h.fireError(id, streamErr)
		return
	}

	h.fire(func() {
		if h.completedFn != nil {
			h.completedFn(capture.CompletedEvent{ID: id})
		}
	})
}

func (h *Host) fire(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

func (h *Host) fireError(id string, err error) {
	h.fire(func() {
		if h.errorFn != nil {
			h.errorFn(capture.ErrorEvent{ID: id, Err: err})
		}
	})
}

func newRequestID() string { return uuid.New().String() }

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// bodyTap implements capture.BodyInterceptor by buffering the three
// callbacks the engine registers until streamTapped drives them.
type bodyTap struct {
	mu      sync.Mutex
	onData  func([]byte)
	onEnd   func()
	onError func(error)
}

func (t *bodyTap) OnData(fn func([]byte)) { t.mu.Lock(); t.onData = fn; t.mu.Unlock() }
func (t *bodyTap) OnEnd(fn func())        { t.mu.Lock(); t.onEnd = fn; t.mu.Unlock() }
func (t *bodyTap) OnError(fn func(error)) { t.mu.Lock(); t.onError = fn; t.mu.Unlock() }

func (t *bodyTap) emitData(chunk []byte) {
	t.mu.Lock()
	fn := t.onData
	t.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (t *bodyTap) emitEnd() {
	t.mu.Lock()
	fn := t.onEnd
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *bodyTap) emitError(err error) {
	t.mu.Lock()
	fn := t.onError
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// streamTapped copies src to dst in fixed-size chunks, cloning each
// chunk into tap before writing it on unmodified — the tap must never
// withhold, reorder, or alter bytes the host delivers.
func streamTapped(dst io.Writer, src io.Reader, tap *bodyTap) error {
	buf := make([]byte, tapChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			tap.emitData(chunk)
			if _, werr := dst.Write(chunk); werr != nil {
				tap.emitError(werr)
				return werr
			}
		}
		if err == io.EOF {
			tap.emitEnd()
			return nil
		}
		if err != nil {
			tap.emitError(err)
			return err
		}
	}
}
