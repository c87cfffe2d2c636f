package dashboard_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/dashboard"
	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/metrics"
)

type fakeGate struct{ difficulty int }

func (g *fakeGate) SetDifficulty(n int) { g.difficulty = n }

func newServer(t *testing.T) (*dashboard.Server, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	m := metrics.NewMetrics()
	s := dashboard.New(m, config.DefaultConfig())
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, m, srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	return res
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestHealthz(t *testing.T) {
	_, _, srv := newServer(t)
	var out map[string]any
	res := getJSON(t, srv.URL+"/healthz", &out)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	s, m, srv := newServer(t)
	m.IncrementTotal()
	m.Transforms.Add(2)
	s.SetActiveSessions(3)

	var snap dashboard.MetricsSnapshot
	getJSON(t, srv.URL+"/api/metrics", &snap)
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, uint64(2), snap.Transforms)
	assert.Equal(t, int64(3), snap.Sessions)
}

func TestRuntime(t *testing.T) {
	_, _, srv := newServer(t)
	var st dashboard.RuntimeStatus
	getJSON(t, srv.URL+"/api/runtime", &st)
	assert.Positive(t, st.Goroutines)
}

func TestPreflight(t *testing.T) {
	_, _, srv := newServer(t)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/config", nil)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestConfig_GetAndUpdate(t *testing.T) {
	s, _, srv := newServer(t)
	gate := &fakeGate{}
	s.Bind(logger.NewNop(), gate)

	var view dashboard.ConfigView
	getJSON(t, srv.URL+"/api/config", &view)
	assert.Equal(t, 4, view.Difficulty)
	assert.Equal(t, "info", view.LogLevel)
	assert.Equal(t, "o", view.LinkPrefix)
	assert.Equal(t, "/b/", view.TunnelPrefix)

	code, out := postJSON(t, srv.URL+"/api/config", `{"log_level":"DEBUG","difficulty":2}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 2, gate.difficulty)

	getJSON(t, srv.URL+"/api/config", &view)
	assert.Equal(t, 2, view.Difficulty)
	assert.Equal(t, "debug", view.LogLevel)
}

func TestConfig_Rejects(t *testing.T) {
	s, _, srv := newServer(t)

	code, _ := postJSON(t, srv.URL+"/api/config", `{"difficulty":2}`)
	assert.Equal(t, http.StatusBadRequest, code, "no gate bound")

	gate := &fakeGate{}
	s.Bind(logger.NewNop(), gate)
	for _, body := range []string{`{"difficulty":65}`, `{"difficulty":-1}`, `{"log_level":"loud"}`, `not json`} {
		code, out := postJSON(t, srv.URL+"/api/config", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.NotEmpty(t, out["error"], body)
	}
	assert.Zero(t, gate.difficulty)
}

// readEvent returns the payload of the next SSE data line.
func readEvent(t *testing.T, sc *bufio.Scanner) string {
	t.Helper()
	for sc.Scan() {
		if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			return data
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended")
	return ""
}

func openStream(t *testing.T, url string) *bufio.Scanner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	return bufio.NewScanner(res.Body)
}

func TestLogsStream_HistoryThenLive(t *testing.T) {
	s, _, srv := newServer(t)
	s.AddLog("INFO", "first")

	sc := openStream(t, srv.URL+"/api/logs/stream")
	var entry dashboard.LogEntry
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc)), &entry))
	assert.Equal(t, "first", entry.Message)

	s.AddLog("WARN", "second")
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc)), &entry))
	assert.Equal(t, "second", entry.Message)
	assert.Equal(t, "WARN", entry.Level)
}

func TestMetricsStream_FirstFrameImmediate(t *testing.T) {
	s, m, srv := newServer(t)
	m.IncrementTotal()
	s.SetActiveSessions(7)

	sc := openStream(t, srv.URL+"/api/metrics/stream")
	var snap dashboard.MetricsSnapshot
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc)), &snap))
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, int64(7), snap.Sessions)
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	s := dashboard.New(metrics.NewMetrics(), config.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAddLog_IsLoggerHook(t *testing.T) {
	s, _, srv := newServer(t)
	log, err := logger.New(config.LogConfig{Level: "info"}, s.AddLog)
	require.NoError(t, err)
	log.Info("hooked entry")

	sc := openStream(t, srv.URL+"/api/logs/stream")
	var entry dashboard.LogEntry
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc)), &entry))
	assert.Equal(t, "hooked entry", entry.Message)
	assert.Equal(t, "INFO", entry.Level)
}
