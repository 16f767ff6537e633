// Package capture implements the Network Capture Engine: the central
// pipeline that registers five ordered callbacks on an opaque
// NavigationHost, maintains per-id request/response state, decodes
// content-encoded bodies, parses cookies, detects bearer tokens,
// correlates CORS pre-flights, and emits events to a single sink.
//
// Generalizes the teacher's concrete proxy.Server.handleRequest /
// captureRequest / captureResponse / copyResponse flow
// (internal/proxy/proxy_server.go) and internal/driven/http.go's
// header-cloning helpers into an interface the engine drives, so the
// engine itself performs no I/O — a concrete host lives in
// internal/demohost.
package capture

// Disposer removes whatever it was returned from registering. Calling it
// more than once must be safe and a no-op after the first call.
type Disposer func()

// PreRequestEvent is delivered when the host observes a new outbound
// request. UploadBody carries any synchronously available request body
// bytes (may be nil).
type PreRequestEvent struct {
	ID         string
	Method     string
	URL        string
	UploadBody []byte
	Timestamp  int64 // ms since epoch; zero means "use time of receipt"
}

// PreSendHeadersEvent is delivered just before the host sends request
// headers on the wire. Headers are unfiltered — the engine applies the
// whitelist itself.
type PreSendHeadersEvent struct {
	ID        string
	Headers   map[string]string
	Timestamp int64
}

// BodyInterceptor is an optional streaming tap a host may expose on a
// response body. The engine registers all three callbacks; a host that
// cannot support tapping simply never delivers one (HeadersReceivedEvent.
// Interceptor stays nil).
type BodyInterceptor interface {
	OnData(fn func(chunk []byte))
	OnEnd(fn func())
	OnError(fn func(err error))
}

// HeadersReceivedEvent is delivered when response headers arrive.
type HeadersReceivedEvent struct {
	ID          string
	Status      int
	StatusText  string
	Headers     map[string]string
	Interceptor BodyInterceptor // nil if the host exposes no streaming tap
	Timestamp   int64
}

// CompletedEvent is delivered when a request/response exchange finishes
// successfully.
type CompletedEvent struct {
	ID        string
	FromCache bool
	Timestamp int64
}

// ErrorEvent is delivered when a request/response exchange terminates in
// error. The engine drops whatever per-id state it holds for ID and emits
// an ErrorInfo carrying only the id, timestamp and error message.
type ErrorEvent struct {
	ID        string
	Err       error
	Timestamp int64
}

// NavigationHost is the opaque embedded-browsing surface the engine
// drives. Each On* method registers a callback and returns a Disposer
// that removes it; Attach calls all five and composes their disposers.
type NavigationHost interface {
	OnPreRequest(fn func(PreRequestEvent)) Disposer
	OnPreSendHeaders(fn func(PreSendHeadersEvent)) Disposer
	OnHeadersReceived(fn func(HeadersReceivedEvent)) Disposer
	OnCompleted(fn func(CompletedEvent)) Disposer
	OnErrorOccurred(fn func(ErrorEvent)) Disposer
}

// EventSink receives every event the engine (and, once attached, the
// diagnostic bridge) emits. The engine invokes it synchronously on the
// emitting goroutine and never buffers; a panicking sink is caught and
// discarded.
type EventSink func(channel string, payload any)

// Channel names the engine and bridge emit on.
const (
	ChannelRestRequest            = "rest:request"
	ChannelRestBeforeSendHeaders  = "rest:before-send-headers"
	ChannelRestResponse           = "rest:response"
	ChannelRestError              = "rest:error"
	ChannelRestTxn                = "rest:txn"
	ChannelWSFrame                = "ws:frame"
	ChannelCDPInitiator           = "cdp:initiator"
)

// HeadersSentInfo is the payload emitted on ChannelRestBeforeSendHeaders:
// the request id, the event timestamp, and the filtered outbound headers.
// Method and URL live on the aggregator's transaction for id, not here —
// a consumer that needs them looks the transaction up.
type HeadersSentInfo struct {
	ID        string
	Timestamp int64
	Headers   map[string]string
}

// ErrorInfo is the payload emitted on ChannelRestError: the request id,
// the event timestamp, and the error's message. As with HeadersSentInfo,
// method/URL/headers for id live on the aggregator's transaction.
type ErrorInfo struct {
	ID        string
	Timestamp int64
	Err       string
}

func safeEmit(sink EventSink, channel string, payload any) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink(channel, payload)
}
