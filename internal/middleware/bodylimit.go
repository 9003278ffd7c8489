package middleware

import (
	"net/http"
	"strings"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/gwerrors"
)

// BodyLimit caps request body sizes. Paths matching any upload prefix use
// the larger upload limit. Requests whose declared Content-Length already
// exceeds the limit are rejected before the body is read; everything else
// gets a MaxBytesReader so the pipeline's read fails at limit+1.
func BodyLimit(limits config.LimitsConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := limits.DefaultBodyLimit
			for _, prefix := range limits.UploadPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					limit = limits.UploadBodyLimit
					break
				}
			}

			if r.ContentLength > limit {
				gwerrors.New(gwerrors.KindPayloadTooLarge, "request body too large").
					WriteJSON(w, RequestIDFromContext(r.Context()))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
