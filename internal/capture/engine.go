package capture

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbusbrowse/netwatch/internal/aggregator"
	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
	"github.com/nimbusbrowse/netwatch/internal/fsutil"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

// requestBodyPreviewLimit matches spec.md:29's explicit numeric invariant
// for CapturedRequest.BodyPreview ("a UTF-8 preview of up to 512
// characters"). CapturedResponse carries no such invariant, so its
// preview uses the more generous responseBodyPreviewLimit.
const requestBodyPreviewLimit = 512
const responseBodyPreviewLimit = 4096

// requestState is the engine's per-id scratch space between pre-request
// and completed/error-occurred. Its own mutex guards the body
// accumulator, which is written from the host's tap callbacks — a
// different goroutine than the one driving the lifecycle callbacks.
type requestState struct {
	mu sync.Mutex

	method, urlStr, host, path string
	query                      map[string][]string
	startTs                    int64

	respStatus     int
	respStatusText string
	respHeaders    map[string]string
	rawSetCookies  []string
	corsAllow      *capturemodel.CORSAllow
	contentEncoding string
	contentType     string

	accum       bytes.Buffer
	firstByteTs *int64
}

func (st *requestState) appendChunk(chunk []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.firstByteTs == nil {
		now := time.Now().UnixMilli()
		st.firstByteTs = &now
	}
	st.accum.Write(chunk)
}

func (st *requestState) bodyBytes() []byte {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]byte(nil), st.accum.Bytes()...)
}

// EngineConfig holds everything the engine needs beyond the host and
// sink: the header-whitelist redaction gate, the body persistence gate,
// and the body saver the Capture Session provides.
type EngineConfig struct {
	RedactSecrets bool
	Gate          PersistenceGate
	Saver         BodySaver
}

// Engine is the Network Capture Engine: attaches five callbacks to a
// NavigationHost, maintains per-id state, and emits events to a sink.
type Engine struct {
	log        *logging.Logger
	agg        *aggregator.Aggregator
	preflights *aggregator.PreflightStore
	cfg        EngineConfig

	mu       sync.Mutex
	states   map[string]*requestState
	sink     EventSink
	attached bool
}

// New returns an Engine wired to agg and preflights, which the caller
// owns and may share across the engine and other components (e.g. the
// session controller's aggregated-transaction NDJSON push).
func New(agg *aggregator.Aggregator, preflights *aggregator.PreflightStore, cfg EngineConfig, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		log:        log,
		agg:        agg,
		preflights: preflights,
		cfg:        cfg,
		states:     make(map[string]*requestState),
	}
}

// Attach registers the engine's five callbacks on host and returns an
// idempotent Disposer. Attaching a second time without detaching first
// returns a nil disposer and false.
func (e *Engine) Attach(host NavigationHost, sink EventSink) (Disposer, bool) {
	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return nil, false
	}
	e.attached = true
	e.sink = sink
	e.mu.Unlock()

	dPreReq := host.OnPreRequest(e.handlePreRequest)
	dHeaders := host.OnPreSendHeaders(e.handlePreSendHeaders)
	dRecv := host.OnHeadersReceived(e.handleHeadersReceived)
	dDone := host.OnCompleted(e.handleCompleted)
	dErr := host.OnErrorOccurred(e.handleErrorOccurred)

	var once sync.Once
	disposer := Disposer(func() {
		once.Do(func() {
			dPreReq()
			dHeaders()
			dRecv()
			dDone()
			dErr()

			e.mu.Lock()
			e.states = make(map[string]*requestState)
			e.sink = nil
			e.attached = false
			e.mu.Unlock()
		})
	})
	return disposer, true
}

func (e *Engine) getOrCreateState(id string) *requestState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		st = &requestState{}
		e.states[id] = st
	}
	return st
}

func (e *Engine) takeState(id string) *requestState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return &requestState{}
	}
	delete(e.states, id)
	return st
}

func (e *Engine) emit(channel string, payload any) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	safeEmit(sink, channel, payload)
}

func nowMs(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return time.Now().UnixMilli()
}

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// coercedMethods is the set CapturedRequest.Method normalizes to; any
// other verb (including malformed or host-specific ones) coerces to GET.
var coercedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

func normalizeMethod(method string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if coercedMethods[m] {
		return m
	}
	return http.MethodGet
}

func previewBody(b []byte, limit int) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}

func (e *Engine) handlePreRequest(ev PreRequestEvent) {
	id := ensureID(ev.ID)
	ts := nowMs(ev.Timestamp)
	method := normalizeMethod(ev.Method)

	var host, path string
	var query map[string][]string
	if u, err := url.Parse(ev.URL); err == nil {
		host = u.Host
		path = u.Path
		query = u.Query()
	}

	st := e.getOrCreateState(id)
	st.mu.Lock()
	st.method = method
	st.urlStr = ev.URL
	st.host = host
	st.path = path
	st.query = query
	st.startTs = ts
	st.mu.Unlock()

	req := capturemodel.CapturedRequest{
		ID:          id,
		Method:      method,
		URL:         ev.URL,
		Host:        host,
		Path:        path,
		Query:       query,
		Headers:     map[string]string{},
		Timing:      capturemodel.Timing{StartTs: ts},
		Body:        ev.UploadBody,
		BodyPreview: previewBody(ev.UploadBody, requestBodyPreviewLimit),
	}
	e.agg.OnRequest(req)
	e.emit(ChannelRestRequest, req)
}

func (e *Engine) handlePreSendHeaders(ev PreSendHeadersEvent) {
	id := ensureID(ev.ID)
	ts := nowMs(ev.Timestamp)
	st := e.getOrCreateState(id)

	st.mu.Lock()
	method, host, path := st.method, st.host, st.path
	st.mu.Unlock()

	filtered := filterRequestHeaders(ev.Headers, e.cfg.RedactSecrets)
	e.agg.PatchRequestHeaders(id, filtered)

	if acrm, ok := isPreflight(method, ev.Headers); ok {
		origin, _ := headerValue(ev.Headers, "origin")
		if e.preflights != nil {
			e.preflights.Record(host, path, acrm, origin, time.UnixMilli(ts))
		}
	} else if e.preflights != nil {
		if origin, ok := e.preflights.Consume(host, path, method, time.UnixMilli(ts)); ok {
			o := origin
			e.agg.PatchRequestCORS(id, &capturemodel.CORSInfo{Preflight: true, Origin: &o})
		}
	}

	if authVal, ok := headerValue(ev.Headers, "authorization"); ok {
		token := strings.TrimPrefix(authVal, "Bearer ")
		if match := fsutil.FindBearerToken(token); match != "" {
			header, payload := fsutil.DecodeBearerToken(match)
			tokenField := match
			if e.cfg.RedactSecrets {
				tokenField = fsutil.RedactBearerToken(match)
			}
			jwt := &capturemodel.BearerTokenInfo{
				Token:   tokenField,
				Header:  header,
				Payload: payload,
			}
			e.agg.PatchRequestToken(id, jwt)
		}
	}

	e.emit(ChannelRestBeforeSendHeaders, HeadersSentInfo{ID: id, Timestamp: ts, Headers: filtered})
}

func (e *Engine) handleHeadersReceived(ev HeadersReceivedEvent) {
	id := ensureID(ev.ID)
	st := e.getOrCreateState(id)

	contentEncoding, _ := headerValue(ev.Headers, "content-encoding")
	contentType, _ := headerValue(ev.Headers, "content-type")

	st.mu.Lock()
	st.respStatus = ev.Status
	st.respStatusText = ev.StatusText
	st.respHeaders = filterResponseHeaders(ev.Headers, e.cfg.RedactSecrets)
	st.rawSetCookies = extractSetCookieLines(ev.Headers)
	st.corsAllow = extractCORSAllow(ev.Headers)
	st.contentEncoding = contentEncoding
	st.contentType = contentType
	st.mu.Unlock()

	if ev.Interceptor != nil {
		ev.Interceptor.OnData(st.appendChunk)
		ev.Interceptor.OnEnd(func() {})
		ev.Interceptor.OnError(func(err error) {
			e.log.Warn("response body tap error", zap.String("id", id), zap.Error(err))
		})
	}
}

func (e *Engine) handleCompleted(ev CompletedEvent) {
	id := ensureID(ev.ID)
	ts := nowMs(ev.Timestamp)
	st := e.takeState(id)

	st.mu.Lock()
	startTs := st.startTs
	firstByteTs := st.firstByteTs
	respStatus := st.respStatus
	respStatusText := st.respStatusText
	respHeaders := st.respHeaders
	rawSetCookies := st.rawSetCookies
	corsAllow := st.corsAllow
	contentEncoding := st.contentEncoding
	contentType := st.contentType
	st.mu.Unlock()

	raw := st.bodyBytes()
	body, err := decodeContent(contentEncoding, raw)
	if err != nil {
		e.log.Warn("response body decode failed, keeping raw bytes", zap.String("id", id), zap.Error(err))
		body = raw
	}

	if startTs == 0 {
		startTs = ts
	}

	resp := capturemodel.CapturedResponse{
		ID:          id,
		Status:      respStatus,
		StatusText:  respStatusText,
		Headers:     respHeaders,
		ContentType: contentType,
		Size:        len(body),
		Timing:      capturemodel.Timing{StartTs: startTs, FirstByteTs: firstByteTs, EndTs: &ts},
		Body:        body,
		BodyPreview: previewBody(body, responseBodyPreviewLimit),
		FromCache:   ev.FromCache,
		CORSAllow:   corsAllow,
		SetCookies:  parseCookies(rawSetCookies),
	}

	if e.cfg.Saver != nil && e.cfg.Gate.Qualifies(contentType, len(body)) {
		desc, err := e.cfg.Saver.SaveBody(id, body, contentType)
		if err != nil {
			e.log.Warn("failed to persist response body", zap.String("id", id), zap.Error(err))
		} else {
			resp.BodyFile = desc.Path
		}
	}

	txn := e.agg.OnResponse(resp)

	e.emit(ChannelRestResponse, resp)
	if txn != nil {
		e.emit(ChannelRestTxn, txn)
	}
}

func (e *Engine) handleErrorOccurred(ev ErrorEvent) {
	id := ensureID(ev.ID)
	ts := nowMs(ev.Timestamp)
	e.takeState(id)

	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	e.emit(ChannelRestError, ErrorInfo{ID: id, Timestamp: ts, Err: msg})
}

func parseCookies(lines []string) []capturemodel.SetCookie {
	out := make([]capturemodel.SetCookie, 0, len(lines))
	for _, l := range lines {
		out = append(out, parseSetCookieLine(l))
	}
	return out
}
