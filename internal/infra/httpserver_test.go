package infra

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestWriteTimeoutOutlastsPipeline(t *testing.T) {
	cfg := &Config{PipelineTimeout: 3 * time.Minute, HTTPWriteTimeout: 30 * time.Second}
	if got := writeTimeout(cfg); got != 3*time.Minute+10*time.Second {
		t.Fatalf("writeTimeout = %s", got)
	}
	cfg.HTTPWriteTimeout = 10 * time.Minute
	if got := writeTimeout(cfg); got != 10*time.Minute {
		t.Fatalf("writeTimeout = %s", got)
	}
}

func TestHTTPServerServeAndShutdown(t *testing.T) {
	cfg := &Config{Port: "0", PipelineTimeout: time.Second, HTTPReadTimeout: time.Second, HTTPIdleTimeout: time.Second}
	srv := NewHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	if srv.Addr() != ":0" {
		t.Fatalf("Addr = %q", srv.Addr())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v after graceful shutdown", err)
	}
}
