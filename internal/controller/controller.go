// Package controller implements the Session Controller: start/stop/
// get_state/subscribe over the Network Capture Engine and Diagnostic
// Channel Bridge, plus the from-webview inbound path for guest-
// originated event envelopes the primary lifecycle callbacks cannot
// observe.
package controller

import (
	"strings"
	"sync"
	"time"

	"github.com/nimbusbrowse/netwatch/internal/aggregator"
	"github.com/nimbusbrowse/netwatch/internal/broker"
	"github.com/nimbusbrowse/netwatch/internal/capture"
	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
	"github.com/nimbusbrowse/netwatch/internal/cdp"
	"github.com/nimbusbrowse/netwatch/internal/config"
	"github.com/nimbusbrowse/netwatch/internal/logging"
	"github.com/nimbusbrowse/netwatch/internal/session"
)

// State is broadcast to every subscribed inspector UI on every
// start/stop transition.
type State struct {
	Capturing  bool   `json:"capturing"`
	SessionDir string `json:"sessionDir,omitempty"`
	StartedAt  int64  `json:"startedAt,omitempty"`
}

// Result is the tagged-result shape every user-visible operation
// returns instead of an error or panic.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Envelope is a guest-originated event the navigation host's sandboxed
// instrumentation emits directly, bypassing the primary lifecycle
// callbacks (e.g. WebSocket payloads from within a sandboxed guest).
type Envelope struct {
	Channel string
	Payload any
}

// restRequestWire is the inspector-facing shape for rest:request and
// rest:before-send-headers: narrower than capturemodel.CapturedRequest,
// and the same shape for both channels.
type restRequestWire struct {
	Ts         int64             `json:"ts"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	ReqHeaders map[string]string `json:"reqHeaders"`
	ReqBody    string            `json:"reqBody,omitempty"`
}

// restResponseWire is the inspector-facing shape for rest:response.
type restResponseWire struct {
	Ts         int64             `json:"ts"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	ResHeaders map[string]string `json:"resHeaders"`
	BodySize   int               `json:"bodySize"`
	TimingMs   float64           `json:"timingMs"`
}

// restErrorWire is the inspector-facing shape for rest:error.
type restErrorWire struct {
	Ts         int64             `json:"ts"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	ReqHeaders map[string]string `json:"reqHeaders"`
}

var knownChannels = map[string]bool{
	capture.ChannelRestRequest:           true,
	capture.ChannelRestBeforeSendHeaders: true,
	capture.ChannelRestResponse:          true,
	capture.ChannelRestError:             true,
	capture.ChannelRestTxn:               true,
	"ws:open":                            true,
	"ws:msg":                             true,
	"ws:close":                           true,
	"ws:error":                           true,
	capture.ChannelWSFrame:               true,
}

// Controller owns the lifecycle of one capture session at a time.
type Controller struct {
	cfg  *config.Config
	log  *logging.Logger
	host capture.NavigationHost
	dbg  cdp.DebugHost // nil when the host exposes no debugger-style channel

	agg        *aggregator.Aggregator
	preflights *aggregator.PreflightStore
	stateTopic string
	states     *broker.Broker[State]

	mu             sync.Mutex
	capturing      bool
	startedAt      int64
	rec            *session.Session
	engine         *capture.Engine
	engineDisposer capture.Disposer
	bridge         *cdp.Bridge
	bridgeDisposer cdp.Disposer

	inspectorSink capture.EventSink
}

// New constructs a Controller. host is the NavigationHost the engine
// attaches to; dbg may be nil, in which case enableCdp is a no-op.
func New(cfg *config.Config, host capture.NavigationHost, dbg cdp.DebugHost, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{
		cfg:        cfg,
		log:        log,
		host:       host,
		dbg:        dbg,
		agg:        aggregator.New(),
		preflights: aggregator.NewPreflightStore(),
		stateTopic: "state",
		states:     broker.New[State](8),
	}
}

// Start constructs a Capture Session, attaches the engine with a sink
// that forwards REST events into the recorder and every event to
// inspectorSink, attaches the diagnostic bridge if configured, and
// broadcasts the new state. If already capturing, returns the current
// state without side effects. Without a NavigationHost it returns
// {ok:false, reason:"no-navigation-host"}.
func (c *Controller) Start(inspectorSink capture.EventSink) (Result, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return Result{OK: true}, c.currentStateLocked()
	}
	if c.host == nil {
		return Result{OK: false, Reason: "no-navigation-host"}, c.currentStateLocked()
	}

	rec, err := session.New(c.cfg.OutputFolder, c.cfg.RedactSecrets, c.log)
	if err != nil {
		return Result{OK: false, Reason: err.Error()}, c.currentStateLocked()
	}

	c.agg.Reset()
	c.preflights.Reset()

	gate := capture.PersistenceGate{
		Enabled:     c.cfg.CaptureBodies,
		MaxBytes:    c.cfg.CaptureBodyMaxBytes,
		TypeMatcher: c.cfg.BodyTypeMatcher(),
	}
	engine := capture.New(c.agg, c.preflights, capture.EngineConfig{
		RedactSecrets: c.cfg.RedactSecrets,
		Gate:          gate,
		Saver:         rec,
	}, c.log)

	c.inspectorSink = inspectorSink
	sink := c.buildSink(rec)

	disposer, ok := engine.Attach(c.host, sink)
	if !ok {
		_ = rec.Stop()
		return Result{OK: false, Reason: "engine-already-attached"}, c.currentStateLocked()
	}

	c.rec = rec
	c.engine = engine
	c.engineDisposer = disposer
	c.startedAt = time.Now().UnixMilli()
	c.capturing = true

	if c.cfg.EnableCDP && c.dbg != nil {
		bridge := cdp.New(c.log)
		bridgeDisposer, ok := bridge.Attach(c.dbg, c.buildBridgeSink())
		if ok {
			c.bridge = bridge
			c.bridgeDisposer = bridgeDisposer
		} else {
			c.log.Warn("diagnostic channel bridge unavailable; continuing without it")
		}
	}

	state := c.currentStateLocked()
	c.states.Publish(c.stateTopic, state)
	return Result{OK: true}, state
}

// Stop detaches the bridge and engine, flushes the recorder's
// artifacts, clears references, and broadcasts the new state. Returns
// {ok:false, reason:"not-running"} if no session is active.
func (c *Controller) Stop() (Result, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return Result{OK: false, Reason: "not-running"}, c.currentStateLocked()
	}

	if c.bridgeDisposer != nil {
		c.bridgeDisposer()
		c.bridgeDisposer = nil
		c.bridge = nil
	}
	if c.engineDisposer != nil {
		c.engineDisposer()
		c.engineDisposer = nil
	}

	var reason string
	if err := c.rec.Stop(); err != nil {
		reason = err.Error()
	}

	c.rec = nil
	c.engine = nil
	c.inspectorSink = nil
	c.capturing = false
	c.startedAt = 0

	state := c.currentStateLocked()
	c.states.Publish(c.stateTopic, state)

	if reason != "" {
		return Result{OK: true, Reason: reason}, state
	}
	return Result{OK: true}, state
}

// GetState returns a snapshot of the current capture state.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStateLocked()
}

// Subscribe registers for state-change broadcasts. Call the returned
// unsubscribe function when done.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch, unsub := c.states.Subscribe(c.stateTopic)
	return ch, unsub
}

func (c *Controller) currentStateLocked() State {
	state := State{Capturing: c.capturing, StartedAt: c.startedAt}
	if c.rec != nil {
		state.SessionDir = c.rec.BaseDir()
	}
	return state
}

// HandleFromWebview routes a guest-originated envelope to the recorder
// (for REST and WS channels) and to the inspector sink. Envelopes on
// channels outside the known set go to the inspector only.
func (c *Controller) HandleFromWebview(env Envelope) {
	c.mu.Lock()
	rec := c.rec
	sink := c.inspectorSink
	c.mu.Unlock()

	if rec != nil && knownChannels[env.Channel] {
		c.forwardToRecorder(rec, env)
	}
	safeEmit(sink, env.Channel, env.Payload)
}

func (c *Controller) forwardToRecorder(rec *session.Session, env Envelope) {
	if strings.HasPrefix(env.Channel, "ws:") {
		rec.OnWSEvent(env.Channel, env.Payload)
		return
	}

	switch env.Channel {
	case capture.ChannelRestTxn:
		if txn, ok := env.Payload.(*capturemodel.CapturedTransaction); ok {
			rec.PushTxnNDJSON(txn)
		}
	case capture.ChannelRestRequest:
		if req, ok := env.Payload.(session.RestRequest); ok {
			rec.OnRestRequest(req)
		}
	case capture.ChannelRestResponse:
		if resp, ok := env.Payload.(session.RestResponse); ok {
			rec.OnRestResponse(resp)
		}
	}
}

// buildSink drives the recorder off the engine's internal models and
// reshapes the same events into the inspector's narrower wire payloads
// before forwarding them on. The recorder side needs the full model (it
// writes HAR entries and redacts bodies by content type); the inspector
// side only ever needs the spec's per-channel wire shape.
func (c *Controller) buildSink(rec *session.Session) capture.EventSink {
	return func(channel string, payload any) {
		wire := payload

		switch channel {
		case capture.ChannelRestRequest:
			if req, ok := payload.(capturemodel.CapturedRequest); ok {
				rec.OnRestRequest(session.RestRequest{
					Method:      req.Method,
					URL:         req.URL,
					Headers:     req.Headers,
					Timestamp:   time.UnixMilli(req.Timing.StartTs),
					BodyPreview: req.BodyPreview,
					ContentType: req.Headers["content-type"],
					Query:       req.Query,
				})
				wire = restRequestWire{
					Ts:         req.Timing.StartTs,
					URL:        req.URL,
					Method:     req.Method,
					ReqHeaders: req.Headers,
					ReqBody:    req.BodyPreview,
				}
			}
		case capture.ChannelRestBeforeSendHeaders:
			// Headers don't exist yet at pre-request time, so the recorder
			// only gets real request headers (and a real content type, for
			// body redaction) once they're actually sent here.
			if info, ok := payload.(capture.HeadersSentInfo); ok {
				if txn, ok := c.agg.Get(info.ID); ok {
					rec.OnRestRequest(session.RestRequest{
						Method:      txn.Request.Method,
						URL:         txn.Request.URL,
						Headers:     info.Headers,
						Timestamp:   time.UnixMilli(txn.Request.Timing.StartTs),
						BodyPreview: txn.Request.BodyPreview,
						ContentType: info.Headers["content-type"],
						Query:       txn.Request.Query,
					})
					wire = restRequestWire{
						Ts:         info.Timestamp,
						URL:        txn.Request.URL,
						Method:     txn.Request.Method,
						ReqHeaders: info.Headers,
						ReqBody:    txn.Request.BodyPreview,
					}
				}
			}
		case capture.ChannelRestResponse:
			if resp, ok := payload.(capturemodel.CapturedResponse); ok {
				var method, url string
				if txn, ok := c.agg.Get(resp.ID); ok {
					method, url = txn.Request.Method, txn.Request.URL
				}
				if resp.BodyFile != "" {
					rec.NoteResponseBody(method, url, session.BodyDescriptor{
						Path:        resp.BodyFile,
						Size:        resp.Size,
						ContentType: resp.ContentType,
					})
				}
				rec.OnRestResponse(session.RestResponse{
					Method:         method,
					URL:            url,
					Status:         resp.Status,
					StatusText:     resp.StatusText,
					Headers:        resp.Headers,
					ContentType:    resp.ContentType,
					BodySize:       resp.Size,
					StartedAt:      time.UnixMilli(resp.Timing.StartTs),
					TimingMs:       durationMs(resp.Timing),
					SetCookieLines: setCookieLinesFrom(resp.SetCookies),
				})
				wire = restResponseWire{
					Ts:         resp.Timing.StartTs,
					URL:        url,
					Method:     method,
					Status:     resp.Status,
					StatusText: resp.StatusText,
					ResHeaders: resp.Headers,
					BodySize:   resp.Size,
					TimingMs:   durationMs(resp.Timing),
				}
			}
		case capture.ChannelRestError:
			if info, ok := payload.(capture.ErrorInfo); ok {
				var method, url string
				var headers map[string]string
				if txn, ok := c.agg.Get(info.ID); ok {
					method, url = txn.Request.Method, txn.Request.URL
					headers = txn.Request.Headers
				}
				wire = restErrorWire{
					Ts:         info.Timestamp,
					URL:        url,
					Method:     method,
					ReqHeaders: headers,
				}
			}
		case capture.ChannelRestTxn:
			if txn, ok := payload.(*capturemodel.CapturedTransaction); ok {
				rec.PushTxnNDJSON(txn)
			}
		}

		c.mu.Lock()
		sink := c.inspectorSink
		c.mu.Unlock()
		safeEmit(sink, channel, wire)
	}
}

func (c *Controller) buildBridgeSink() cdp.EventSink {
	return func(channel string, payload any) {
		c.mu.Lock()
		sink := c.inspectorSink
		c.mu.Unlock()
		safeEmit(sink, channel, payload)
	}
}

func durationMs(t capturemodel.Timing) float64 {
	if t.EndTs == nil {
		return 0
	}
	return float64(*t.EndTs - t.StartTs)
}

func setCookieLinesFrom(cookies []capturemodel.SetCookie) []string {
	lines := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		line := ck.Name + "=" + ck.Value
		for flag, v := range ck.Flags {
			switch val := v.(type) {
			case bool:
				if val {
					line += "; " + flag
				}
			case string:
				line += "; " + flag + "=" + val
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func safeEmit(sink capture.EventSink, channel string, payload any) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink(channel, payload)
}
