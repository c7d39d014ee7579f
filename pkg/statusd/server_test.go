package statusd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printstream/pkg/metrics"
)

type fakeSource struct {
	mu     sync.Mutex
	status map[string]any
}

func (f *fakeSource) GetStatus() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.status))
	for k, v := range f.status {
		out[k] = v
	}
	return out
}

func (f *fakeSource) set(key string, value any) {
	f.mu.Lock()
	f.status[key] = value
	f.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *fakeSource, *httptest.Server) {
	t.Helper()
	source := &fakeSource{status: map[string]any{"state": "idle"}}
	s := New(Config{Interval: 10 * time.Millisecond}, source)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, source, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, source, ts := newTestServer(t)
	source.set("state", "printing")

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "printing", status["state"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)
	metrics.Default().Counter("statusd_test_total", "test counter").Inc()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body strings.Builder
	_, err = io.Copy(&body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "statusd_test_total 1")
	assert.Contains(t, body.String(), "# TYPE statusd_test_total counter")
}

func TestWebSocketInitialSnapshot(t *testing.T) {
	_, _, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// The first snapshot arrives without waiting for a broadcast tick.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var status map[string]any
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "idle", status["state"])
}

func TestWebSocketBroadcastsUpdates(t *testing.T) {
	s, source, ts := newTestServer(t)

	// Drive the broadcast loop the way Start does.
	s.running.Store(true)
	defer s.running.Store(false)
	go s.broadcastLoop()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	source.set("state", "printing")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var status map[string]any
		require.NoError(t, conn.ReadJSON(&status))
		if status["state"] == "printing" {
			return
		}
	}
	t.Fatal("never observed the updated snapshot")
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	s, _, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	clientCount := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients)
	}
	require.Eventually(t, func() bool { return clientCount() == 1 },
		time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return clientCount() == 0 },
		time.Second, 5*time.Millisecond)
}
