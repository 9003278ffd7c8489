// Package gatewaypb defines the descriptors for the two gRPC contracts the
// gateway owns: the per-method policy service each backend implements, and
// the token validator the external auth service implements. The gateway
// calls both dynamically, so the contracts live as descriptor protos
// rather than generated stubs.
package gatewaypb

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/kestrelgw/kestrel/internal/descriptor"
)

// Fully qualified method names for dynamic invocation.
const (
	GetPolicyMethod = "kestrel.gateway.v1.MethodPolicy/GetPolicy"
	ValidateMethod  = "kestrel.auth.v1.TokenValidator/Validate"
)

// PolicyPool resolves the MethodPolicy contract backends implement.
func PolicyPool() (*descriptor.Pool, error) {
	return descriptor.Build("kestrel.gateway.v1.MethodPolicy",
		[]*descriptorpb.FileDescriptorProto{policyFile()})
}

// ValidatorPool resolves the TokenValidator contract the auth backend
// implements.
func ValidatorPool() (*descriptor.Pool, error) {
	return descriptor.Build("kestrel.auth.v1.TokenValidator",
		[]*descriptorpb.FileDescriptorProto{validatorFile()})
}

func policyFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("kestrel/gateway/v1/policy.proto"),
		Package: proto.String("kestrel.gateway.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("PolicyRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("grpc_method", 1),
				},
			},
			{
				Name: proto.String("PolicyResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("require_auth", 1),
					repeatedStringField("required_roles", 2),
					int32Field("cache_ttl_seconds", 3),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("MethodPolicy"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("GetPolicy"),
						InputType:  proto.String(".kestrel.gateway.v1.PolicyRequest"),
						OutputType: proto.String(".kestrel.gateway.v1.PolicyResponse"),
					},
				},
			},
		},
	}
}

func validatorFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("kestrel/auth/v1/validator.proto"),
		Package: proto.String("kestrel.auth.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ValidateRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("token", 1),
				},
			},
			{
				Name: proto.String("ValidateResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("valid", 1),
					stringField("user_id", 2),
					repeatedStringField("roles", 3),
					stringField("error", 4),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("TokenValidator"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("Validate"),
						InputType:  proto.String(".kestrel.auth.v1.ValidateRequest"),
						OutputType: proto.String(".kestrel.auth.v1.ValidateResponse"),
					},
				},
			},
		},
	}
}

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func repeatedStringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
	}
}

func boolField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func int32Field(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}
