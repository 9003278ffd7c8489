// Package gwerrors defines the gateway's client-facing error taxonomy.
//
// Every error that crosses the HTTP boundary is a *Error carrying a stable
// code string and an HTTP status. Upstream detail (gRPC messages, transport
// errors) is kept on the wrapped error for logging and never serialized to
// the client.
package gwerrors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies where in the pipeline an error originated.
type Kind int

const (
	KindRouteNotFound Kind = iota
	KindMissingToken
	KindInvalidToken
	KindInsufficientPermissions
	KindPayloadTooLarge
	KindInvalidPathParam
	KindInvalidJSONBody
	KindRateLimitExceeded
	KindTimeout
	KindCircuitOpen
	KindServiceUnavailable
	KindUpstream
	KindInternal
)

// kindInfo maps each kind to its outward HTTP status and code string.
var kindInfo = map[Kind]struct {
	status int
	code   string
}{
	KindRouteNotFound:           {http.StatusNotFound, "NOT_FOUND"},
	KindMissingToken:            {http.StatusUnauthorized, "UNAUTHENTICATED"},
	KindInvalidToken:            {http.StatusForbidden, "FORBIDDEN"},
	KindInsufficientPermissions: {http.StatusForbidden, "FORBIDDEN"},
	KindPayloadTooLarge:         {http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	KindInvalidPathParam:        {http.StatusBadRequest, "BAD_REQUEST"},
	KindInvalidJSONBody:         {http.StatusBadRequest, "BAD_REQUEST"},
	KindRateLimitExceeded:       {http.StatusTooManyRequests, "RATE_LIMITED"},
	KindTimeout:                 {http.StatusGatewayTimeout, "TIMEOUT"},
	KindCircuitOpen:             {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	KindServiceUnavailable:      {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	KindInternal:                {http.StatusInternalServerError, "INTERNAL"},
}

// Error is a client-facing gateway error.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details map[string]interface{}

	underlying error
}

func (e *Error) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// New creates an Error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	info := kindInfo[kind]
	return &Error{
		Kind:    kind,
		Status:  info.status,
		Code:    info.code,
		Message: message,
	}
}

// Wrap creates an Error of the given kind wrapping an internal cause.
// The cause is available for logging via Unwrap but never written to clients.
func Wrap(err error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.underlying = err
	return e
}

// WithDetails returns a copy of the error with extra structured detail
// attached to the envelope.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// FromGRPC converts an upstream gRPC error into a gateway Error using the
// status mapping table. The upstream message is retained only on the wrapped
// error; the client sees a generic message for the status class.
func FromGRPC(err error) *Error {
	st, ok := status.FromError(err)
	if !ok {
		return Wrap(err, KindInternal, "internal error")
	}
	httpStatus := HTTPStatus(st.Code())
	e := &Error{
		Kind:       KindUpstream,
		Status:     httpStatus,
		Code:       codeString(httpStatus),
		Message:    http.StatusText(httpStatus),
		underlying: err,
	}
	return e
}

// HTTPStatus maps a gRPC status code to the HTTP status used at the gateway
// boundary.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return http.StatusRequestTimeout
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal, codes.DataLoss, codes.Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// codeString maps an HTTP status to the stable envelope code string.
func codeString(httpStatus int) string {
	switch httpStatus {
	case http.StatusOK:
		return "OK"
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusRequestTimeout:
		return "CANCELLED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusPreconditionFailed:
		return "FAILED_PRECONDITION"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusNotImplemented:
		return "UNIMPLEMENTED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}

// envelope is the JSON wire shape of a client-facing error.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	TraceID string                 `json:"trace_id,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes the error envelope to the response. traceID may be empty.
func (e *Error) WriteJSON(w http.ResponseWriter, traceID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(envelope{Error: envelopeBody{
		Code:    e.Code,
		Message: e.Message,
		TraceID: traceID,
		Details: e.Details,
	}})
}

// AsError extracts a *Error from err, or wraps it as an internal error.
func AsError(err error) *Error {
	if ge, ok := err.(*Error); ok {
		return ge
	}
	return Wrap(err, KindInternal, "internal error")
}
