package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/odvcencio/obvius/pkg/config"
	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/storage"
)

const testPassword = "device-secret"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Obvius.Password = testPassword
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Logging.Dir = ""
	return cfg
}

func newTestLogger() (*logging.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	logger := logging.NewWriterLogger(buf)
	logger.SetMinLevel(logging.LevelDebug)
	return logger, buf
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(testConfig(), nil, nil)

	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestProtocolRoutes(t *testing.T) {
	s := New(testConfig(), nil, nil)

	for _, path := range []string{"/api/obvius", "/api/obvius/"} {
		rec := get(t, s.Handler(), path+"?password="+testPassword+"&mode=STATUS")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "<pre>\nSUCCESS\n  \"</pre>", rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/obvius", strings.NewReader("MODE=MODE_TEST&PASSWORD="+testPassword))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, "<pre> Test Not Implemented </pre>", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/other").Code)
}

func TestCustomProtocolPath(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Path = "/upload"
	s := New(cfg, nil, nil)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/upload?password="+testPassword+"&mode=STATUS").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/obvius?password="+testPassword+"&mode=STATUS").Code)
}

func TestRootProtocolPath(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Path = "/"
	s := New(cfg, nil, nil)

	rec := get(t, s.Handler(), "/?password="+testPassword+"&mode=STATUS")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(testConfig(), nil, nil)

	get(t, s.Handler(), "/api/obvius?password="+testPassword+"&mode=STATUS")
	get(t, s.Handler(), "/api/obvius?password=wrong&mode=STATUS")

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `obvius_protocol_requests_total{mode="STATUS",outcome="success"}`)
	assert.Contains(t, body, `obvius_protocol_requests_total{mode="none",outcome="auth_invalid"}`)
	assert.Contains(t, body, "obvius_protocol_request_duration_seconds_bucket")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := New(cfg, nil, nil)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
}

func TestStatusReportsArchived(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger, logs := newTestLogger()
	s := New(testConfig(), logger, store)

	rec := get(t, s.Handler(), "/api/obvius?password="+testPassword+"&mode=STATUS&SERIALNUMBER=001EC6000042&LOOPNAME=Roof")
	require.Equal(t, http.StatusOK, rec.Code)

	reports, err := store.ListStatusReports(context.Background(), storage.StatusReportFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "001EC6000042", reports[0].SerialNumber)
	assert.Equal(t, "Roof", reports[0].LoopName)

	// the observer logs asynchronously
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), string(storage.EventStatusReportSaved))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAccessLogOmitsSecret(t *testing.T) {
	logger, logs := newTestLogger()
	s := New(testConfig(), logger, nil)

	get(t, s.Handler(), "/api/obvius?password="+testPassword+"&mode=STATUS")
	get(t, s.Handler(), "/api/obvius?password="+testPassword+"&mode=UNKNOWN")

	out := logs.String()
	assert.Contains(t, out, `"type":"http_request"`)
	assert.Contains(t, out, "GET /api/obvius")
	assert.NotContains(t, out, testPassword)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := New(testConfig(), nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url + "/api/obvius?password=" + testPassword + "&mode=STATUS")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<pre>\nSUCCESS\n  \"</pre>", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeSpeaksH2C(t *testing.T) {
	s := New(testConfig(), nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + ln.Addr().String() + "/api/obvius?password=" + testPassword + "&mode=STATUS")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<pre>\nSUCCESS\n  \"</pre>", string(body))
}

func TestStartFailsOnBadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Bind = "256.0.0.1:99999"
	s := New(cfg, nil, nil)
	assert.Error(t, s.Start(context.Background()))
}
