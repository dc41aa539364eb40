package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"grimm.is/knockd/internal/logging"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewUnregistered(prometheus.NewRegistry())

	r.RecordKnock(1234)
	r.RecordKnock(1234)
	r.RecordKnock(5678)

	if got := testutil.ToFloat64(r.KnocksTotal.WithLabelValues("1234")); got != 2 {
		t.Errorf("knocks{port=1234} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.KnocksTotal.WithLabelValues("5678")); got != 1 {
		t.Errorf("knocks{port=5678} = %v, want 1", got)
	}
}

func TestRegistry_BackendOp(t *testing.T) {
	r := NewUnregistered(prometheus.NewRegistry())

	r.RecordBackendOp("grant", time.Millisecond, nil)
	r.RecordBackendOp("grant", time.Millisecond, errors.New("netlink busy"))
	r.RecordBackendOp("revoke", time.Millisecond, nil)

	if got := testutil.ToFloat64(r.BackendErrors.WithLabelValues("grant")); got != 1 {
		t.Errorf("backend_errors{op=grant} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.BackendErrors.WithLabelValues("revoke")); got != 0 {
		t.Errorf("backend_errors{op=revoke} = %v, want 0", got)
	}
}

func TestGet_Singleton(t *testing.T) {
	if Get() != Get() {
		t.Error("Get() should return the same registry")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServe_MetricsAndRoutes(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, logging.Discard(), Route{
			Pattern: "/healthz",
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("OK"))
			}),
		})
	}()

	get := func(path string) (int, string) {
		var resp *http.Response
		var err error
		for i := 0; i < 50; i++ {
			resp, err = http.Get("http://" + addr + path)
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics = %d, body missing go_goroutines", code)
	}
	code, body = get("/healthz")
	if code != http.StatusOK || body != "OK" {
		t.Errorf("/healthz = %d %q, want 200 OK", code, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	err = Serve(context.Background(), ln.Addr().String(), logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "metrics listen") {
		t.Errorf("Serve on a busy port = %v, want metrics listen error", err)
	}
}
