package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHealthURL(t *testing.T) {
	for addr, want := range map[string]string{
		"":             "http://localhost:8080/healthz",
		":9000":        "http://localhost:9000/healthz",
		"0.0.0.0:8081": "http://localhost:8081/healthz",
		"bot:8080":     "http://bot:8080/healthz",
	} {
		if got := healthURL(addr); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	if !probe(context.Background(), srv.Client(), srv.URL+"/healthz") {
		t.Error("probe() = false for 200")
	}
	status.Store(http.StatusServiceUnavailable)
	if probe(context.Background(), srv.Client(), srv.URL+"/healthz") {
		t.Error("probe() = true for 503")
	}
}
