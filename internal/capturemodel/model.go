// Package capturemodel holds the plain data types the capture pipeline
// passes between its stages: requests, responses, aggregated
// transactions, and the small value objects (timing, CORS, cookies,
// bearer-token info) they carry. None of these types own behavior beyond
// simple accessors — the engine, aggregator, and session own the
// behavior that produces and consumes them.
package capturemodel

// Timing is the (startTs, firstByteTs?, endTs?) triple shared by requests,
// responses, and aggregated transactions, in milliseconds since epoch.
type Timing struct {
	StartTs      int64  `json:"startTs"`
	FirstByteTs  *int64 `json:"firstByteTs,omitempty"`
	EndTs        *int64 `json:"endTs,omitempty"`
}

// CORSInfo describes a request's cross-origin shape.
type CORSInfo struct {
	Preflight bool    `json:"preflight"`
	Origin    *string `json:"origin,omitempty"`
}

// CORSAllow describes a response's Access-Control-Allow-* grant.
type CORSAllow struct {
	Origin      string   `json:"origin,omitempty"`
	Methods     []string `json:"methods,omitempty"`
	Headers     []string `json:"headers,omitempty"`
	Credentials bool     `json:"credentials,omitempty"`
}

// BearerTokenInfo carries a (possibly redacted) bearer token along with
// its best-effort decoded header/payload.
type BearerTokenInfo struct {
	Token   string         `json:"token"`
	Header  map[string]any `json:"header,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SetCookie is one parsed Set-Cookie line.
type SetCookie struct {
	Name  string         `json:"name"`
	Value string         `json:"value"`
	Flags map[string]any `json:"flags"`
}

// CapturedRequest is the normalized request half of a transaction.
type CapturedRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Host    string            `json:"host"`
	Path    string             `json:"path"`
	Query   map[string][]string `json:"query"`
	Headers map[string]string  `json:"headers"`
	Timing  Timing             `json:"timing"`

	Body        []byte  `json:"-"`
	BodyPreview string  `json:"bodyPreview,omitempty"`

	CORS *CORSInfo         `json:"cors,omitempty"`
	JWT  *BearerTokenInfo  `json:"jwt,omitempty"`
}

// CapturedResponse is the normalized response half of a transaction.
type CapturedResponse struct {
	ID         string            `json:"id"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	ContentType string           `json:"contentType,omitempty"`
	Size        int              `json:"size"`
	Timing      Timing           `json:"timing"`

	Body        []byte `json:"-"`
	BodyPreview string `json:"bodyPreview,omitempty"`

	FromCache  bool   `json:"fromCache,omitempty"`
	BodyFile   string `json:"bodyFile,omitempty"`

	CORSAllow  *CORSAllow  `json:"corsAllow,omitempty"`
	SetCookies []SetCookie `json:"setCookies,omitempty"`
	JWT        *BearerTokenInfo `json:"jwt,omitempty"`
}

// BodyDescriptor points at a persisted response body, produced by the
// Capture Session's save_body and consumed by both the HAR archive's
// content._file extension and the engine's response event payload.
type BodyDescriptor struct {
	Path        string `json:"path"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// CapturedTransaction is the aggregate of a request and its optional
// response, owning both by value (per spec.md §4.9's ownership model —
// the transaction owns request/response; they never point back).
type CapturedTransaction struct {
	ID       string  `json:"id"`
	Method   string  `json:"method"`
	Host     string  `json:"host"`
	Path     string  `json:"path"`
	RouteKey string  `json:"routeKey"`
	Query    string  `json:"query"`

	Request  CapturedRequest    `json:"req"`
	Response *CapturedResponse  `json:"resp,omitempty"`

	DurationMs *int64 `json:"durationMs,omitempty"`
	TTFBMs     *int64 `json:"ttfbMs,omitempty"`
	ReceiveMs  *int64 `json:"receiveMs,omitempty"`
}
