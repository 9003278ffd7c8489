package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/kestrelgw/kestrel/internal/descriptor"
	"github.com/kestrelgw/kestrel/internal/gatewaypb"
)

// fakeConn records the invoked method and answers with a canned response
// filled in by fill.
type fakeConn struct {
	method  string
	request []byte
	fill    func(resp *dynamicpb.Message)
	err     error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	if msg, ok := args.(proto.Message); ok {
		f.request, _ = proto.Marshal(msg)
	}
	if f.err != nil {
		return f.err
	}
	if f.fill != nil {
		f.fill(reply.(*dynamicpb.Message))
	}
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func validatorInvoker(t *testing.T) *Invoker {
	t.Helper()
	pool, err := gatewaypb.ValidatorPool()
	if err != nil {
		t.Fatalf("ValidatorPool() error: %v", err)
	}
	return New(pool)
}

func TestInvokeRoundTrip(t *testing.T) {
	conn := &fakeConn{
		fill: func(resp *dynamicpb.Message) {
			fields := resp.Descriptor().Fields()
			resp.Set(fields.ByName("valid"), protoreflect.ValueOfBool(true))
			resp.Set(fields.ByName("user_id"), protoreflect.ValueOfString("u-42"))
			roles := resp.Mutable(fields.ByName("roles")).List()
			roles.Append(protoreflect.ValueOfString("admin"))
		},
	}

	out, err := validatorInvoker(t).Invoke(t.Context(), conn,
		gatewaypb.ValidateMethod, []byte(`{"token":"abc"}`), nil)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}

	if conn.method != "/"+gatewaypb.ValidateMethod {
		t.Fatalf("invoked %s, want /%s", conn.method, gatewaypb.ValidateMethod)
	}

	var resp struct {
		Valid  bool     `json:"valid"`
		UserID string   `json:"user_id"`
		Roles  []string `json:"roles"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response not JSON: %v (%s)", err, out)
	}
	if !resp.Valid || resp.UserID != "u-42" || len(resp.Roles) != 1 {
		t.Fatalf("response = %+v, want valid u-42 [admin]", resp)
	}
}

func TestInvokeEmptyPayload(t *testing.T) {
	conn := &fakeConn{}
	out, err := validatorInvoker(t).Invoke(t.Context(), conn, gatewaypb.ValidateMethod, nil, nil)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if string(out) != "{}" {
		t.Fatalf("empty response JSON = %s, want {}", out)
	}
}

func TestInvokeInvalidJSON(t *testing.T) {
	_, err := validatorInvoker(t).Invoke(t.Context(), &fakeConn{},
		gatewaypb.ValidateMethod, []byte(`{"token":`), nil)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("Invoke() = %v, want ErrInvalidJSON", err)
	}
}

func TestInvokeUnknownFieldsDiscarded(t *testing.T) {
	conn := &fakeConn{}
	_, err := validatorInvoker(t).Invoke(t.Context(), conn,
		gatewaypb.ValidateMethod, []byte(`{"token":"abc","extra_param":"x"}`), nil)
	if err != nil {
		t.Fatalf("Invoke() rejected unknown field: %v", err)
	}
}

func TestInvokeBackendErrorPassesThrough(t *testing.T) {
	boom := errors.New("upstream exploded")
	_, err := validatorInvoker(t).Invoke(t.Context(), &fakeConn{err: boom},
		gatewaypb.ValidateMethod, nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Invoke() = %v, want passthrough of backend error", err)
	}
}

func TestInvokeRejectsStreamingMethods(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("test/stream.proto"),
		Package: proto.String("test"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Msg")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Streamer"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:            proto.String("Watch"),
						InputType:       proto.String(".test.Msg"),
						OutputType:      proto.String(".test.Msg"),
						ServerStreaming: proto.Bool(true),
					},
				},
			},
		},
	}
	pool, err := descriptor.Build("test.Streamer", []*descriptorpb.FileDescriptorProto{fd})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	_, err = New(pool).Invoke(t.Context(), &fakeConn{}, "test.Streamer/Watch", nil, nil)
	if err == nil {
		t.Fatal("streaming method accepted")
	}
}
