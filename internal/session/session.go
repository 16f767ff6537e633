// Package session implements the Capture Session (Recorder): the owner
// of a capture session's on-disk artifacts — a HAR archive for REST
// transactions, an append stream of WebSocket events, an optional append
// stream of aggregated transactions, and a directory of saved response
// bodies.
//
// Grounded on internal/web/web_server.go and internal/websocket/hub.go
// for the overall "own a session's artifacts and expose a small
// contract" shape, and on other_examples/LubyRuffy-ProxyCraft__har.go for
// the archive itself (internal/harfile).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
	"github.com/nimbusbrowse/netwatch/internal/fsutil"
	"github.com/nimbusbrowse/netwatch/internal/harfile"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

// RestRequest is the subset of a captured request the recorder needs to
// pair with its eventual response and write a HAR entry.
type RestRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Timestamp   time.Time
	BodyPreview string
	ContentType string
	Query       map[string][]string
}

// RestResponse is the subset of a captured response the recorder needs
// to complete a HAR entry.
type RestResponse struct {
	Method         string
	URL            string
	Status         int
	StatusText     string
	Headers        map[string]string
	ContentType    string
	BodySize       int
	SetCookieLines []string
	StartedAt      time.Time
	TimingMs       float64
}

// BodyDescriptor describes a persisted response body file.
type BodyDescriptor = capturemodel.BodyDescriptor

type pairKey struct {
	method, url string
}

// Session owns one capture session's artifacts, from Start to Stop.
type Session struct {
	log *logging.Logger

	baseDir   string
	bodiesDir string
	harPath   string
	redact    bool

	mu             sync.Mutex
	har            *harfile.Archive
	pendingReqs    map[pairKey]RestRequest
	pendingBodies  map[pairKey]BodyDescriptor

	wsStream  *os.File
	wsMu      sync.Mutex

	txnStream *os.File
	txnMu     sync.Mutex
}

// New creates a timestamped base directory under outputFolder, a
// bodies-<ts>/ subdirectory, a rest-<ts>.har path, and opens an append
// stream for ws-<ts>.wslog.ndjson. redactSecrets gates the redaction
// rules applied by OnRestResponse.
func New(outputFolder string, redactSecrets bool, log *logging.Logger) (*Session, error) {
	if log == nil {
		log = logging.Nop()
	}

	ts := fsutil.Timestamp()
	baseDir := filepath.Join(outputFolder, ts)
	bodiesDir := filepath.Join(baseDir, "bodies-"+ts)
	harPath := filepath.Join(baseDir, "rest-"+ts+".har")
	wsPath := filepath.Join(baseDir, "ws-"+ts+".wslog.ndjson")

	if err := fsutil.EnsureDirectory(bodiesDir); err != nil {
		return nil, fmt.Errorf("session: create bodies dir: %w", err)
	}

	wsStream, err := fsutil.OpenAppendStream(wsPath)
	if err != nil {
		return nil, fmt.Errorf("session: open ws stream: %w", err)
	}

	return &Session{
		log:           log.With(),
		baseDir:       baseDir,
		bodiesDir:     bodiesDir,
		harPath:       harPath,
		redact:        redactSecrets,
		har:           harfile.NewArchive(time.Now(), "netwatch capture"),
		pendingReqs:   make(map[pairKey]RestRequest),
		pendingBodies: make(map[pairKey]BodyDescriptor),
		wsStream:      wsStream,
	}, nil
}

// BaseDir returns the session's base artifact directory.
func (s *Session) BaseDir() string { return s.baseDir }

// OnRestRequest remembers req by (method, url) for later pairing with its
// response. Only the most recent request per key is kept — retries
// overwrite, matching spec.md §4.3.
func (s *Session) OnRestRequest(req RestRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReqs[pairKey{req.Method, req.URL}] = req
}

// SaveBody writes bytes to bodies-<ts>/<epoch>_<sanitized-id>.bin and
// returns its descriptor. IO errors are propagated; the caller must not
// call NoteResponseBody on failure.
func (s *Session) SaveBody(idHint string, body []byte, contentType string) (BodyDescriptor, error) {
	name := fmt.Sprintf("%d_%s.bin", time.Now().UnixNano(), fsutil.SanitizeFilename(idHint, 64))
	path := filepath.Join(s.bodiesDir, name)

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return BodyDescriptor{}, fmt.Errorf("session: save body: %w", err)
	}

	return BodyDescriptor{Path: path, Size: len(body), ContentType: contentType}, nil
}

// NoteResponseBody records descriptor to be attached when the next
// matching OnRestResponse fires for (method, url).
func (s *Session) NoteResponseBody(method, url string, descriptor BodyDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingBodies[pairKey{method, url}] = descriptor
}

// OnRestResponse locates the matched request (if any), builds a HAR
// entry, and appends it to the archive. If no matching request is
// present, the entry is still emitted with startedDateTime derived from
// resp.StartedAt. Removes both the request and the body descriptor from
// their maps on attach.
func (s *Session) OnRestResponse(resp RestResponse) {
	key := pairKey{resp.Method, resp.URL}

	s.mu.Lock()
	req, hasReq := s.pendingReqs[key]
	body, hasBody := s.pendingBodies[key]
	delete(s.pendingReqs, key)
	delete(s.pendingBodies, key)
	s.mu.Unlock()

	startedAt := resp.StartedAt
	if hasReq {
		startedAt = req.Timestamp
	}

	entry := harfile.Entry{
		StartedDateTime: startedAt,
		Time:             resp.TimingMs,
		Request:  s.buildHARRequest(resp, req, hasReq),
		Response: s.buildHARResponse(resp, body, hasBody),
		Timings: harfile.Timings{
			Send:    0,
			Wait:    resp.TimingMs,
			Receive: 0,
		},
	}

	s.mu.Lock()
	s.har.AddEntry(entry)
	s.mu.Unlock()
}

func (s *Session) buildHARRequest(resp RestResponse, req RestRequest, hasReq bool) harfile.Request {
	if !hasReq {
		return harfile.Request{
			Method: resp.Method,
			URL:    resp.URL,
		}
	}

	bodyText := req.BodyPreview
	if s.redact {
		bodyText = RedactRequestBody(req.ContentType, bodyText)
		req.Headers = redactAuthorizationHeader(req.Headers)
	}

	har := harfile.Request{
		Method:      req.Method,
		URL:         req.URL,
		Headers:     harfile.HeadersToPairs(req.Headers),
		QueryString: harfile.QueryToPairs(req.Query),
		BodySize:    int64(len(bodyText)),
		HeadersSize: -1,
	}
	if bodyText != "" {
		har.PostData = &harfile.PostData{MimeType: req.ContentType, Text: bodyText}
	}
	return har
}

func (s *Session) buildHARResponse(resp RestResponse, body BodyDescriptor, hasBody bool) harfile.Response {
	cookies := make([]harfile.Cookie, 0, len(resp.SetCookieLines))
	for _, line := range resp.SetCookieLines {
		if s.redact {
			line = RedactSetCookieLine(line)
		}
		cookies = append(cookies, parseSetCookieLine(line))
	}

	har := harfile.Response{
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		Headers:     harfile.HeadersToPairs(resp.Headers),
		Cookies:     cookies,
		HeadersSize: -1,
		BodySize:    int64(resp.BodySize),
		Redacted:    s.redact,
		Content: harfile.Content{
			Size:     int64(resp.BodySize),
			MimeType: resp.ContentType,
		},
	}
	if hasBody {
		rel, err := filepath.Rel(s.baseDir, body.Path)
		if err == nil {
			har.Content.File = rel
		} else {
			har.Content.File = body.Path
		}
	}
	return har
}

// OnWSEvent appends a JSON line {type, ...event} to the WebSocket NDJSON
// stream. Errors are logged and swallowed — a WS logging failure must
// never interrupt capture.
func (s *Session) OnWSEvent(eventType string, payload any) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	line := map[string]any{"type": eventType}
	if b, err := json.Marshal(payload); err == nil {
		var fields map[string]any
		if json.Unmarshal(b, &fields) == nil {
			for k, v := range fields {
				line[k] = v
			}
		}
	}

	if err := fsutil.WriteJSONLine(s.wsStream, line); err != nil {
		s.log.Warn("failed to write ws ndjson line", errField(err))
	}
}

// StartNDJSON opens an append stream for aggregated transactions. A
// session may have at most one such stream open at a time.
func (s *Session) StartNDJSON(path string) error {
	stream, err := fsutil.OpenAppendStream(path)
	if err != nil {
		return fmt.Errorf("session: open txn ndjson: %w", err)
	}

	s.txnMu.Lock()
	s.txnStream = stream
	s.txnMu.Unlock()
	return nil
}

// PushTxnNDJSON appends one line per transaction. If no stream is open,
// this is a silent no-op.
func (s *Session) PushTxnNDJSON(txn *capturemodel.CapturedTransaction) {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()

	if s.txnStream == nil {
		return
	}
	if err := fsutil.WriteJSONLine(s.txnStream, txn); err != nil {
		s.log.Warn("failed to write txn ndjson line", errField(err))
	}
}

// StopNDJSON closes the transactions stream, if open.
func (s *Session) StopNDJSON() {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()

	if s.txnStream != nil {
		_ = s.txnStream.Close()
		s.txnStream = nil
	}
}

// Stop serializes the HAR archive to disk as pretty-printed JSON and
// closes every open stream. Each close/write is independently guarded —
// a failure on one artifact never prevents the others from flushing.
func (s *Session) Stop() error {
	s.StopNDJSON()

	s.mu.Lock()
	har := s.har
	s.mu.Unlock()

	var firstErr error

	if b, err := json.MarshalIndent(har, "", "  "); err == nil {
		if err := os.WriteFile(s.harPath, b, 0o644); err != nil {
			firstErr = fmt.Errorf("session: write har: %w", err)
			s.log.Error("failed to write har archive", errField(err))
		}
	} else {
		firstErr = fmt.Errorf("session: marshal har: %w", err)
		s.log.Error("failed to marshal har archive", errField(err))
	}

	if err := s.wsStream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("session: close ws stream: %w", err)
	}

	return firstErr
}

// EntryCount returns the number of REST entries currently in the HAR
// archive.
func (s *Session) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.har.Log.Entries)
}
