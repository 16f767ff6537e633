// Package aggregator correlates CapturedRequest/CapturedResponse pairs
// into CapturedTransaction records, keyed by request id, and computes the
// route key used to group requests whose paths differ only in variable
// segments. Grounded on internal/utils/url_normalizer.go and
// internal/driven/url_cache.go's regex-normalization approach, generalized
// to the fixed four-step algorithm spec.md §4.2 specifies.
package aggregator

import (
	"net/url"
	"sync"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
)

// Aggregator holds one open transaction per request id until its
// response (or terminal error) arrives, and an insertion-ordered list for
// enumeration and archival. It never reorders the ordered list.
type Aggregator struct {
	mu      sync.Mutex
	index   map[string]*capturemodel.CapturedTransaction
	ordered []*capturemodel.CapturedTransaction
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		index: make(map[string]*capturemodel.CapturedTransaction),
	}
}

// OnRequest computes a route key from req's Host and Path, inserts a new
// transaction, pushes it onto the ordered list, and returns it.
func (a *Aggregator) OnRequest(req capturemodel.CapturedRequest) *capturemodel.CapturedTransaction {
	path := req.Path
	routeKey := req.Host + ComputeRouteKey(path)

	if op := rpcOperationName(req.Headers["content-type"], req.BodyPreview); op != "" {
		routeKey += op
	}

	txn := &capturemodel.CapturedTransaction{
		ID:       req.ID,
		Method:   req.Method,
		Host:     req.Host,
		Path:     path,
		RouteKey: routeKey,
		Query:    encodeQuery(req.Query),
		Request:  req,
	}

	a.mu.Lock()
	a.index[req.ID] = txn
	a.ordered = append(a.ordered, txn)
	a.mu.Unlock()

	return txn
}

// PatchRequestToken attaches tokenInfo to the request field of the
// transaction for id, if one exists. Idempotent: repeated calls simply
// overwrite the previous value.
func (a *Aggregator) PatchRequestToken(id string, tokenInfo *capturemodel.BearerTokenInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()

	txn, ok := a.index[id]
	if !ok {
		return
	}
	txn.Request.JWT = tokenInfo
}

// PatchRequestCORS attaches cors info to the request field of the
// transaction for id, if one exists.
func (a *Aggregator) PatchRequestCORS(id string, cors *capturemodel.CORSInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()

	txn, ok := a.index[id]
	if !ok {
		return
	}
	txn.Request.CORS = cors
}

// PatchRequestHeaders attaches the filtered outbound headers to the
// request field of the transaction for id, if one exists. Headers arrive
// after the request itself (pre-send-headers fires after pre-request), so
// OnRequest always stores an empty map; this fills it in once the host
// has actually sent the request.
func (a *Aggregator) PatchRequestHeaders(id string, headers map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	txn, ok := a.index[id]
	if !ok {
		return
	}
	txn.Request.Headers = headers
}

// OnResponse locates the transaction for resp's id and attaches resp to
// it, computing duration/ttfb/receive where the necessary timestamps are
// present. A lookup miss (late or duplicate response) is silently
// dropped, returning nil.
func (a *Aggregator) OnResponse(resp capturemodel.CapturedResponse) *capturemodel.CapturedTransaction {
	a.mu.Lock()
	defer a.mu.Unlock()

	txn, ok := a.index[resp.ID]
	if !ok {
		return nil
	}

	txn.Response = &resp

	start := txn.Request.Timing.StartTs
	if resp.Timing.EndTs != nil {
		duration := max64(0, *resp.Timing.EndTs-start)
		txn.DurationMs = &duration

		if resp.Timing.FirstByteTs != nil {
			ttfb := max64(0, *resp.Timing.FirstByteTs-start)
			receive := max64(0, duration-ttfb)
			txn.TTFBMs = &ttfb
			txn.ReceiveMs = &receive
		}
	}

	return txn
}

// Get returns the transaction for id, if one exists. The returned
// pointer is shared with the aggregator's own state — callers must treat
// it as read-only.
func (a *Aggregator) Get(id string) (*capturemodel.CapturedTransaction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	txn, ok := a.index[id]
	return txn, ok
}

// Ordered returns a snapshot of the aggregator's transactions in
// request-creation order.
func (a *Aggregator) Ordered() []*capturemodel.CapturedTransaction {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*capturemodel.CapturedTransaction, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Reset clears both the index and the ordered list, for use at session
// boundaries.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.index = make(map[string]*capturemodel.CapturedTransaction)
	a.ordered = nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func encodeQuery(q map[string][]string) string {
	if len(q) == 0 {
		return ""
	}
	return url.Values(q).Encode()
}
