package fdc3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*RootAgent, *Metrics, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r, err := NewRootAgent(
		AgentConfig{ListenAddr: ":0", AppDirectoryURL: "http://unused.invalid"},
		func(SDKError) {},
		WithAppDirectoryClient(stubDirectory{app: AppDirectoryApplication{AppID: "app1"}}),
		WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("NewRootAgent: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	srv := httptest.NewServer(NewServer(r, reg))
	t.Cleanup(srv.Close)
	return r, metrics, srv
}

func TestServer_Healthz(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_MetricsExposesRegisteredCollectors(t *testing.T) {
	_, metrics, srv := newTestServer(t)
	metrics.proxyConnected()
	metrics.recordHandshake("success")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{"fdc3_connected_proxies", "fdc3_handshakes_total"} {
		if !strings.Contains(text, want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}

func TestServer_ServeHTTPDelegatesToRouter(t *testing.T) {
	r, _, _ := newTestServer(t)
	srv := NewServer(r, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ServeHTTP status = %d, want 200", rec.Code)
	}
}

var _ = context.Background
