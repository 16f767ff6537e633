package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
	"github.com/nimbusbrowse/netwatch/internal/logging"
)

func newTestSession(t *testing.T, redact bool) *Session {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, redact, logging.Nop())
	require.NoError(t, err)
	return s
}

func TestOnRestRequestThenResponseWritesHAREntry(t *testing.T) {
	s := newTestSession(t, false)

	now := time.Now()
	s.OnRestRequest(RestRequest{
		Method:      "GET",
		URL:         "https://api.example.com/v1/users/1",
		Headers:     map[string]string{"Accept": "application/json"},
		Timestamp:   now,
		ContentType: "application/json",
	})

	s.OnRestResponse(RestResponse{
		Method:      "GET",
		URL:         "https://api.example.com/v1/users/1",
		Status:      200,
		StatusText:  "OK",
		ContentType: "application/json",
		BodySize:    42,
		StartedAt:   now,
		TimingMs:    12.5,
	})

	assert.Equal(t, 1, s.EntryCount())
}

func TestOnRestResponseWithoutMatchingRequestStillEmitsEntry(t *testing.T) {
	s := newTestSession(t, false)

	s.OnRestResponse(RestResponse{
		Method:    "POST",
		URL:       "https://api.example.com/v1/orphan",
		Status:    404,
		StartedAt: time.Now(),
	})

	assert.Equal(t, 1, s.EntryCount())
}

func TestOnRestRequestOverwritesOnRetry(t *testing.T) {
	s := newTestSession(t, false)

	s.OnRestRequest(RestRequest{Method: "GET", URL: "https://api.example.com/x", BodyPreview: "first"})
	s.OnRestRequest(RestRequest{Method: "GET", URL: "https://api.example.com/x", BodyPreview: "second"})

	require.Len(t, s.pendingReqs, 1)
	assert.Equal(t, "second", s.pendingReqs[pairKey{"GET", "https://api.example.com/x"}].BodyPreview)
}

func TestRedactionAppliedToBodyAndCookiesWhenEnabled(t *testing.T) {
	s := newTestSession(t, true)

	s.OnRestRequest(RestRequest{
		Method:      "POST",
		URL:         "https://api.example.com/login",
		BodyPreview: `{"username":"alice","password":"hunter2"}`,
		ContentType: "application/json",
		Headers:     map[string]string{"Authorization": "Bearer abc.def.ghi"},
	})

	s.OnRestResponse(RestResponse{
		Method:         "POST",
		URL:            "https://api.example.com/login",
		Status:         200,
		SetCookieLines: []string{"session=topsecret; Path=/; HttpOnly"},
		StartedAt:      time.Now(),
	})

	entry := s.har.Log.Entries[0]
	require.NotNil(t, entry.Request.PostData)
	assert.NotContains(t, entry.Request.PostData.Text, "hunter2")
	assert.Contains(t, entry.Request.PostData.Text, "***")

	require.Len(t, entry.Response.Cookies, 1)
	assert.Equal(t, "session", entry.Response.Cookies[0].Name)
	assert.Equal(t, "<redacted>", entry.Response.Cookies[0].Value)
	assert.True(t, entry.Response.Redacted)

	var authHeader string
	for _, h := range entry.Request.Headers {
		if h.Name == "Authorization" {
			authHeader = h.Value
		}
	}
	assert.Contains(t, authHeader, "<redacted:")
}

func TestSaveBodyAndNoteResponseBodyAttachesContentFile(t *testing.T) {
	s := newTestSession(t, false)

	desc, err := s.SaveBody("req-1", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.FileExists(t, desc.Path)

	s.NoteResponseBody("GET", "https://api.example.com/y", desc)
	s.OnRestResponse(RestResponse{
		Method:      "GET",
		URL:         "https://api.example.com/y",
		Status:      200,
		ContentType: "application/json",
		StartedAt:   time.Now(),
	})

	entry := s.har.Log.Entries[0]
	assert.NotEmpty(t, entry.Response.Content.File)
}

func TestOnWSEventAppendsNDJSONLine(t *testing.T) {
	s := newTestSession(t, false)

	s.OnWSEvent("ws:frame", map[string]any{"direction": "sent", "payload": "hello"})
	require.NoError(t, s.Stop())

	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "ws-"+filepath.Base(s.BaseDir())+".wslog.ndjson"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ws:frame"`)
}

func TestPushTxnNDJSONNoOpWithoutStartNDJSON(t *testing.T) {
	s := newTestSession(t, false)
	// must not panic when no stream was ever started
	s.PushTxnNDJSON(&capturemodel.CapturedTransaction{ID: "a"})
}

func TestStartNDJSONThenPushWritesLine(t *testing.T) {
	s := newTestSession(t, false)
	path := filepath.Join(s.BaseDir(), "txn.ndjson")
	require.NoError(t, s.StartNDJSON(path))

	s.PushTxnNDJSON(&capturemodel.CapturedTransaction{ID: "a", RouteKey: "/x"})
	s.StopNDJSON()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"a"`)
}

func TestStopFlushesHARArchive(t *testing.T) {
	s := newTestSession(t, false)
	s.OnRestResponse(RestResponse{Method: "GET", URL: "https://api.example.com/z", Status: 204, StartedAt: time.Now()})

	require.NoError(t, s.Stop())

	data, err := os.ReadFile(s.harPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":"1.2"`)
}
