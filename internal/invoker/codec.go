package invoker

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// codec serializes any proto.Message, dynamic messages included. The
// default gRPC codec insists on generated types; dynamic invocation
// forces this one per call.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: cannot marshal %T", v)
	}
	return proto.Marshal(msg)
}

func (codec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: cannot unmarshal into %T", v)
	}
	return proto.Unmarshal(data, msg)
}

func (codec) Name() string { return "proto" }
