package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
)

func TestOnRequestThenOnResponseComputesTimings(t *testing.T) {
	agg := New()

	start := int64(1000)
	txn := agg.OnRequest(capturemodel.CapturedRequest{
		ID:     "req-1",
		Method: "GET",
		Host:   "api.example.com",
		Path:   "/api/v1/users/123",
		Timing: capturemodel.Timing{StartTs: start},
	})
	require.NotNil(t, txn)
	assert.Equal(t, "api.example.com/api/v:id/users/:id", txn.RouteKey)

	firstByte := start + 20
	end := start + 50
	resp := agg.OnResponse(capturemodel.CapturedResponse{
		ID:     "req-1",
		Status: 200,
		Timing: capturemodel.Timing{StartTs: start, FirstByteTs: &firstByte, EndTs: &end},
	})
	require.NotNil(t, resp)
	require.NotNil(t, resp.DurationMs)
	require.NotNil(t, resp.TTFBMs)
	require.NotNil(t, resp.ReceiveMs)
	assert.Equal(t, int64(50), *resp.DurationMs)
	assert.Equal(t, int64(20), *resp.TTFBMs)
	assert.Equal(t, int64(30), *resp.ReceiveMs)
	assert.Equal(t, *resp.TTFBMs+*resp.ReceiveMs, *resp.DurationMs)
}

func TestOnResponseLookupMissReturnsNil(t *testing.T) {
	agg := New()
	resp := agg.OnResponse(capturemodel.CapturedResponse{ID: "never-requested"})
	assert.Nil(t, resp)
}

func TestOrderedReflectsCreationOrder(t *testing.T) {
	agg := New()
	agg.OnRequest(capturemodel.CapturedRequest{ID: "a", Host: "h", Path: "/1"})
	agg.OnRequest(capturemodel.CapturedRequest{ID: "b", Host: "h", Path: "/2"})
	agg.OnRequest(capturemodel.CapturedRequest{ID: "c", Host: "h", Path: "/3"})

	// complete them out of order
	agg.OnResponse(capturemodel.CapturedResponse{ID: "c"})
	agg.OnResponse(capturemodel.CapturedResponse{ID: "a"})

	ordered := agg.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestResetClearsState(t *testing.T) {
	agg := New()
	agg.OnRequest(capturemodel.CapturedRequest{ID: "a", Host: "h", Path: "/1"})
	agg.Reset()
	assert.Empty(t, agg.Ordered())
	assert.Nil(t, agg.OnResponse(capturemodel.CapturedResponse{ID: "a"}))
}

func TestPreflightStoreConsumeWithinWindow(t *testing.T) {
	store := NewPreflightStore()
	now := time.Now()

	store.Record("api.example.com", "/api/users", "POST", "https://a.test", now)

	origin, ok := store.Consume("api.example.com", "/api/users", "POST", now.Add(50*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "https://a.test", origin)

	// consumed: a second consume must miss
	_, ok = store.Consume("api.example.com", "/api/users", "POST", now.Add(60*time.Millisecond))
	assert.False(t, ok)
}

func TestPreflightStoreExpiresAfterWindow(t *testing.T) {
	store := NewPreflightStore()
	now := time.Now()

	store.Record("api.example.com", "/api/users", "POST", "https://a.test", now)

	_, ok := store.Consume("api.example.com", "/api/users", "POST", now.Add(4*time.Second))
	assert.False(t, ok)
}
