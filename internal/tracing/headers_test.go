package tracing

import (
	"net/http"
	"testing"
)

func TestHarvestHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.Set("Tracestate", "vendor=x")
	h.Set("X-B3-TraceId", "4bf92f3577b34da6")
	h.Set("X-Request-Id", "req-1")
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer secret")

	md := HarvestHeaders(h)

	if md["traceparent"] == "" || md["tracestate"] == "" || md["x-b3-traceid"] == "" || md["x-request-id"] == "" {
		t.Fatalf("md = %v, trace headers missing", md)
	}
	if _, ok := md["content-type"]; ok {
		t.Fatal("non-trace header harvested")
	}
	if _, ok := md["authorization"]; ok {
		t.Fatal("authorization header must never be forwarded as trace metadata")
	}
}

func TestHarvestHeadersEmpty(t *testing.T) {
	if md := HarvestHeaders(http.Header{}); len(md) != 0 {
		t.Fatalf("md = %v, want empty", md)
	}
}
