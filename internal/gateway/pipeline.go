package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kestrelgw/kestrel/internal/gwerrors"
	"github.com/kestrelgw/kestrel/internal/invoker"
	"github.com/kestrelgw/kestrel/internal/logging"
	"github.com/kestrelgw/kestrel/internal/metrics"
	"github.com/kestrelgw/kestrel/internal/middleware"
	"github.com/kestrelgw/kestrel/internal/retry"
	"github.com/kestrelgw/kestrel/internal/tracing"
)

// retryPolicy bundles the dispatch retry parameters per backend.
type retryPolicy struct {
	cfg retry.Config
}

func defaultRetrySource(string) retryPolicy {
	return retryPolicy{cfg: retry.DefaultConfig()}
}

// handleProxy is the terminal handler for all proxied requests. Routing
// and authorization already ran in middleware; what remains is
// translation, dispatch, and response mapping.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout())
	defer cancel()

	s.proxy(ctx, w, r, requestID)
}

// proxy runs the translation and dispatch steps and writes the response.
func (s *Server) proxy(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID string) {
	decision, ok := decisionFromContext(ctx)
	if !ok {
		gwerrors.New(gwerrors.KindInternal, "routing decision missing").WriteJSON(w, requestID)
		return
	}

	payload, gerr := s.buildPayload(ctx, r, decision.Params)
	if gerr != nil {
		gerr.WriteJSON(w, requestID)
		return
	}

	md := tracing.HarvestHeaders(r.Header)
	md["x-request-id"] = requestID

	body, gerr := s.dispatch(ctx, decision.Backend, decision.GRPCMethod, payload, md)
	if gerr != nil {
		if uerr := gerr.Unwrap(); uerr != nil {
			logging.Warn("dispatch failed",
				zap.String("backend", decision.Backend),
				zap.String("grpc_method", decision.GRPCMethod),
				zap.Error(uerr))
		}
		gerr.WriteJSON(w, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// buildPayload reads the JSON body, merges sanitized path parameters, and
// injects the authenticated identity.
func (s *Server) buildPayload(ctx context.Context, r *http.Request, params map[string]string) ([]byte, *gwerrors.Error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, gwerrors.New(gwerrors.KindPayloadTooLarge, "request body too large")
		}
		return nil, gwerrors.Wrap(err, gwerrors.KindInternal, "failed to read request body")
	}

	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindInvalidJSONBody, "request body is not a JSON object")
		}
	}

	for name, value := range params {
		if !safePathParam(value) {
			return nil, gwerrors.New(gwerrors.KindInvalidPathParam, "invalid path parameter "+name)
		}
		fields[name] = value
	}

	if claims := claimsFromContext(ctx); claims != nil {
		fields["auth_user_id"] = claims.UserID
		fields["auth_roles"] = claims.Roles
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindInternal, "failed to assemble payload")
	}
	return payload, nil
}

// safePathParam rejects values that could smuggle path traversal or
// filesystem semantics into a backend.
func safePathParam(v string) bool {
	if v == "" {
		return false
	}
	if strings.Contains(v, "..") || strings.Contains(v, "\x00") {
		return false
	}
	if strings.ContainsAny(v, "/\\") {
		return false
	}
	return true
}

// dispatch runs the guarded backend call: circuit breaker admission, the
// retry loop, and outcome accounting. The breaker sees the whole call as
// one operation regardless of retries.
func (s *Server) dispatch(ctx context.Context, backend, grpcMethod string, payload []byte, md map[string]string) ([]byte, *gwerrors.Error) {
	svcLabel, methodLabel := splitMethod(grpcMethod)

	breaker := s.breakers[backend]
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			s.metrics.RecordGRPCCall(svcLabel, methodLabel, metrics.OutcomeCircuitOpen)
			return nil, gwerrors.New(gwerrors.KindCircuitOpen, "backend temporarily unavailable")
		}
	}

	dpool := s.disc.DescriptorPool(backend)
	if dpool == nil {
		return nil, gwerrors.New(gwerrors.KindServiceUnavailable, "backend not yet discovered")
	}
	backendPool := s.pools.Get(backend)
	if backendPool == nil {
		return nil, gwerrors.New(gwerrors.KindServiceUnavailable, "backend unavailable")
	}

	svcCfg := s.cfg.Service(backend)
	callTimeout := time.Duration(0)
	if svcCfg != nil {
		callTimeout = svcCfg.Timeout()
	}

	inv := invoker.New(dpool)
	var body []byte

	err := retry.Do(ctx, s.retry(backend).cfg, func() error {
		callCtx := ctx
		if callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}
		out, err := inv.Invoke(callCtx, backendPool.Conn(), grpcMethod, payload, md)
		if err != nil {
			return err
		}
		body = out
		return nil
	}, func(error) {
		s.metrics.RecordRetry(svcLabel, methodLabel)
	})

	if err != nil {
		if breaker != nil && countsAsBackendFailure(err) {
			breaker.RecordFailure()
		} else if breaker != nil {
			breaker.RecordSuccess()
		}
		s.metrics.RecordGRPCCall(svcLabel, methodLabel, metrics.OutcomeError)
		return nil, mapDispatchError(ctx, err)
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	s.metrics.RecordGRPCCall(svcLabel, methodLabel, metrics.OutcomeSuccess)
	return body, nil
}

// countsAsBackendFailure separates backend health failures from
// application-level statuses. A NotFound answer is a healthy backend
// saying no; an Unavailable is not.
func countsAsBackendFailure(err error) bool {
	if errors.Is(err, invoker.ErrInvalidJSON) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Unknown, codes.DataLoss:
		return true
	default:
		return false
	}
}

// mapDispatchError converts a dispatch failure into the client envelope.
func mapDispatchError(ctx context.Context, err error) *gwerrors.Error {
	switch {
	case errors.Is(err, invoker.ErrInvalidJSON):
		return gwerrors.Wrap(err, gwerrors.KindInvalidJSONBody, "request body does not match the method schema")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return gwerrors.Wrap(err, gwerrors.KindTimeout, "request timed out")
	default:
		return gwerrors.FromGRPC(err)
	}
}

func splitMethod(grpcMethod string) (service, method string) {
	service, method, ok := strings.Cut(grpcMethod, "/")
	if !ok {
		return grpcMethod, ""
	}
	return service, method
}
