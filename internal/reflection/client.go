// Package reflection queries backend gRPC servers for their service and
// descriptor data via the server reflection protocol.
package reflection

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ErrUnimplemented marks a backend that does not expose the reflection
// service. Callers treat this differently from a transient query failure.
var ErrUnimplemented = errors.New("server reflection not supported")

// Client runs reflection queries over a shared connection. Each query
// opens a fresh stream; the connection itself is multiplexed.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection for reflection queries.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// ListServices returns the fully qualified names of all services the
// backend registered, in server order.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	resp, err := c.query(ctx, &reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_ListServices{},
	})
	if err != nil {
		return nil, err
	}

	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, fmt.Errorf("reflection: unexpected response %T", resp.GetMessageResponse())
	}

	names := make([]string, 0, len(list.GetService()))
	for _, svc := range list.GetService() {
		names = append(names, svc.GetName())
	}
	return names, nil
}

// FileContainingSymbol returns the file descriptor defining the symbol
// plus its transitive dependencies, as the server sent them.
func (c *Client) FileContainingSymbol(ctx context.Context, symbol string) ([]*descriptorpb.FileDescriptorProto, error) {
	resp, err := c.query(ctx, &reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: symbol,
		},
	})
	if err != nil {
		return nil, err
	}

	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return nil, fmt.Errorf("reflection: unexpected response %T", resp.GetMessageResponse())
	}

	files := make([]*descriptorpb.FileDescriptorProto, 0, len(fdResp.GetFileDescriptorProto()))
	for _, raw := range fdResp.GetFileDescriptorProto() {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fd); err != nil {
			return nil, fmt.Errorf("reflection: decode descriptor for %s: %w", symbol, err)
		}
		files = append(files, fd)
	}
	return files, nil
}

// query runs a single request/response exchange on a fresh stream.
func (c *Client) query(ctx context.Context, req *reflectpb.ServerReflectionRequest) (*reflectpb.ServerReflectionResponse, error) {
	stream, err := reflectpb.NewServerReflectionClient(c.conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = stream.CloseSend() }()

	if err := stream.Send(req); err != nil {
		return nil, classify(err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, classify(err)
	}

	if er := resp.GetErrorResponse(); er != nil {
		code := codes.Code(er.GetErrorCode())
		if code == codes.Unimplemented {
			return nil, ErrUnimplemented
		}
		return nil, status.Error(code, er.GetErrorMessage())
	}
	return resp, nil
}

func classify(err error) error {
	if status.Code(err) == codes.Unimplemented {
		return ErrUnimplemented
	}
	return err
}
