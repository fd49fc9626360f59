package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/cardsync/go/internal/gamesync"
	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	status    gamesync.Status
	stats     syncerr.Stats
	resyncErr error
	resyncs   int
}

func (f *fakeSession) Status() gamesync.Status   { return f.status }
func (f *fakeSession) ErrorStats() syncerr.Stats { return f.stats }
func (f *fakeSession) Resync(context.Context) error {
	f.resyncs++
	return f.resyncErr
}

func newTestServer(t *testing.T, session *fakeSession) *httptest.Server {
	reg := prometheus.NewRegistry()
	metrics, err := gamesync.NewMetrics("diag", reg)
	require.NoError(t, err)
	metrics.SetVersion("room-1", "gp-1", 12)

	srv := httptest.NewServer(NewHandler(session, Config{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStatusEndpoint(t *testing.T) {
	synced := time.UnixMilli(1_700_000_000_000).UTC()
	se := syncerr.New(syncerr.ConnectionError, gamesync.ContextSync, errors.New("websocket closed"))
	session := &fakeSession{status: gamesync.Status{
		IsConnected:     false,
		IsRoomOwner:     true,
		LastSyncTime:    &synced,
		PendingChanges:  2,
		Error:           se,
		Message:         syncerr.UserMessage(se.Type),
		Version:         12,
		DraggedByOthers: map[string]string{"c1": "visitor"},
	}}
	srv := newTestServer(t, session)

	resp, body := get(t, srv.URL+"/debug/sync/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, false, got["isConnected"])
	assert.Equal(t, true, got["isRoomOwner"])
	assert.EqualValues(t, 2, got["pendingChanges"])
	assert.EqualValues(t, 12, got["version"])
	assert.Equal(t, map[string]any{"c1": "visitor"}, got["draggedByOthers"])
	errField := got["error"].(map[string]any)
	assert.Equal(t, "CONNECTION_ERROR", errField["type"])
	assert.Equal(t, true, errField["retry"])
	assert.Equal(t, syncerr.UserMessage(syncerr.ConnectionError), got["message"])
}

func TestErrorsEndpoint(t *testing.T) {
	session := &fakeSession{stats: syncerr.Stats{
		Total:  1,
		ByType: map[syncerr.ErrorType]int{syncerr.SaveError: 1},
	}}
	srv := newTestServer(t, session)

	resp, body := get(t, srv.URL+"/debug/sync/errors")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got syncerr.Stats
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 1, got.ByType[syncerr.SaveError])
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t, &fakeSession{})

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `diag_state_version{gameplay_id="gp-1",room_id="room-1"} 12`)

	resp, body = get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestResyncEndpoint(t *testing.T) {
	session := &fakeSession{}
	srv := newTestServer(t, session)

	resp, err := http.Post(srv.URL+"/debug/sync/resync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	session.resyncErr = errors.New("persistence API unreachable")
	resp, err = http.Post(srv.URL+"/debug/sync/resync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 2, session.resyncs)

	resp, err = http.Post(srv.URL+"/debug/sync/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeSession{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/debug/sync/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://counselor.example.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
