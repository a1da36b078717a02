package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"wakebot/internal/reconcile"
	logx "wakebot/pkg/logx"
)

type fakeBackend struct {
	ready  atomic.Bool
	passes atomic.Int32
	err    error
}

func (f *fakeBackend) Ready() bool { return f.ready.Load() }

func (f *fakeBackend) Status(context.Context) any {
	return map[string]any{"pending": 2}
}

func (f *fakeBackend) Reconcile(context.Context) (reconcile.Report, error) {
	f.passes.Add(1)
	if f.err != nil {
		return reconcile.Report{Error: f.err.Error()}, f.err
	}
	return reconcile.Report{Rows: 3, Scheduled: 1}, nil
}

func newTestServer(t *testing.T, cfg Config, b *fakeBackend) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "wakebot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	ts := httptest.NewServer(New(cfg, b, reg, logx.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestProbes(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	ts := newTestServer(t, Config{Token: "s3cret"}, b)

	if resp, _ := do(t, http.MethodGet, ts.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before startup pass = %d", resp.StatusCode)
	}
	b.ready.Store(true)
	if resp, _ := do(t, http.MethodGet, ts.URL+"/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz = %d", resp.StatusCode)
	}
}

func TestAuthAndEndpoints(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	ts := newTestServer(t, Config{Token: "s3cret"}, b)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
		body   string
	}{
		{"status no token", http.MethodGet, "/status", "", http.StatusUnauthorized, ""},
		{"status wrong token", http.MethodGet, "/status", "nope", http.StatusUnauthorized, ""},
		{"status", http.MethodGet, "/status", "s3cret", http.StatusOK, `"pending": 2`},
		{"metrics", http.MethodGet, "/metrics", "s3cret", http.StatusOK, "wakebot_test_total 1"},
		{"reconcile needs post", http.MethodGet, "/reconcile", "s3cret", http.StatusMethodNotAllowed, ""},
		{"pprof off", http.MethodGet, "/debug/pprof/", "s3cret", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		resp, body := do(t, tt.method, ts.URL+tt.path, tt.token)
		if resp.StatusCode != tt.want || !strings.Contains(body, tt.body) {
			t.Errorf("%s: %d %q", tt.name, resp.StatusCode, body)
		}
	}
}

func TestManualReconcile(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	ts := newTestServer(t, Config{}, b)

	resp, body := do(t, http.MethodPost, ts.URL+"/reconcile", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile = %d %s", resp.StatusCode, body)
	}
	var rep reconcile.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil || rep.Scheduled != 1 {
		t.Fatalf("report = %+v, %v", rep, err)
	}

	b.err = errors.New("fetch: 503")
	if resp, _ := do(t, http.MethodPost, ts.URL+"/reconcile", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("failed reconcile = %d", resp.StatusCode)
	}
	if b.passes.Load() != 2 {
		t.Fatalf("passes = %d", b.passes.Load())
	}
}

func TestPprofMounted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Config{Pprof: true}, &fakeBackend{})
	if resp, _ := do(t, http.MethodGet, ts.URL+"/debug/pprof/", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index = %d", resp.StatusCode)
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, &fakeBackend{}, nil, logx.Nop())
	if err := s.Start(nil); err == nil {
		t.Fatal("expected refusal")
	}
	if !isLoopbackAddr("127.0.0.1:8080") || !isLoopbackAddr("localhost:1") || isLoopbackAddr("10.0.0.1:80") {
		t.Fatal("isLoopbackAddr")
	}
}
