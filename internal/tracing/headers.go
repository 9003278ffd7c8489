package tracing

import "net/http"

// propagatedHeaders are the trace-context headers forwarded to backends as
// gRPC metadata. W3C trace context plus the B3 family and the request ID.
var propagatedHeaders = []string{
	"traceparent",
	"tracestate",
	"b3",
	"x-b3-traceid",
	"x-b3-spanid",
	"x-b3-parentspanid",
	"x-b3-sampled",
	"x-b3-flags",
	"x-request-id",
}

// HarvestHeaders extracts trace propagation headers from an inbound request
// into a metadata map. Trace data travels as gRPC metadata only, never in
// the request payload.
func HarvestHeaders(h http.Header) map[string]string {
	md := make(map[string]string, 4)
	for _, name := range propagatedHeaders {
		if v := h.Get(name); v != "" {
			md[name] = v
		}
	}
	return md
}
