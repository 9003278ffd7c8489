// Package invoker performs unary gRPC calls for methods known only
// through descriptors, translating JSON payloads to dynamic proto
// messages and back.
package invoker

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/kestrelgw/kestrel/internal/descriptor"
)

// ErrInvalidJSON marks a payload that failed to parse against the
// method's input message. Callers map it to a client error.
var ErrInvalidJSON = errors.New("invalid json payload")

var (
	unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}
	marshalOpts   = protojson.MarshalOptions{UseProtoNames: true}
)

// Invoker calls methods resolved from a descriptor pool.
type Invoker struct {
	pool *descriptor.Pool
}

// New creates an Invoker over one backend's descriptor pool.
func New(pool *descriptor.Pool) *Invoker {
	return &Invoker{pool: pool}
}

// Invoke issues one unary call. fullMethod is the slash form
// ("shop.v1.UserService/GetUser"), payload is a JSON object or empty, and
// md entries travel as gRPC headers. The response message is returned as
// JSON. gRPC errors pass through verbatim for status mapping upstream.
func (inv *Invoker) Invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, payload []byte, md map[string]string) ([]byte, error) {
	mdesc, err := inv.pool.Method(fullMethod)
	if err != nil {
		return nil, err
	}
	if mdesc.IsStreamingClient() || mdesc.IsStreamingServer() {
		return nil, fmt.Errorf("method %s is streaming, only unary is supported", fullMethod)
	}

	req := dynamicpb.NewMessage(mdesc.Input())
	if len(payload) > 0 {
		if err := unmarshalOpts.Unmarshal(payload, req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(md))
	}

	resp := dynamicpb.NewMessage(mdesc.Output())
	if err := conn.Invoke(ctx, "/"+fullMethod, req, resp, grpc.ForceCodec(codec{})); err != nil {
		return nil, err
	}

	out, err := marshalOpts.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal %s response: %w", fullMethod, err)
	}
	return out, nil
}
