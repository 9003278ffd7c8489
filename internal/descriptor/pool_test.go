package descriptor

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// userFile builds a small service file referencing Timestamp and Empty,
// with a configurable dependency list.
func userFile(deps ...string) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("shop/v1/users.proto"),
		Package:    proto.String("shop.v1"),
		Syntax:     proto.String("proto3"),
		Dependency: deps,
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("User"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("id"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
					{
						Name:     proto.String("created_at"),
						Number:   proto.Int32(2),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".google.protobuf.Timestamp"),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
				},
			},
			{
				Name: proto.String("GetUserRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("id"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("UserService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("GetUser"),
						InputType:  proto.String(".shop.v1.GetUserRequest"),
						OutputType: proto.String(".shop.v1.User"),
					},
					{
						Name:       proto.String("DeleteUser"),
						InputType:  proto.String(".shop.v1.GetUserRequest"),
						OutputType: proto.String(".google.protobuf.Empty"),
					},
				},
			},
		},
	}
}

func TestBuildSynthesizesMissingWellKnownTypes(t *testing.T) {
	// No dependency entries and no WKT files in the set at all.
	pool, err := Build("shop.v1.UserService", []*descriptorpb.FileDescriptorProto{userFile()})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	md, err := pool.Method("shop.v1.UserService/GetUser")
	if err != nil {
		t.Fatalf("Method() error: %v", err)
	}
	if got := string(md.Input().FullName()); got != "shop.v1.GetUserRequest" {
		t.Fatalf("input type = %s, want shop.v1.GetUserRequest", got)
	}

	md, err = pool.Method("shop.v1.UserService/DeleteUser")
	if err != nil {
		t.Fatalf("Method() error: %v", err)
	}
	if got := string(md.Output().FullName()); got != "google.protobuf.Empty" {
		t.Fatalf("output type = %s, want google.protobuf.Empty", got)
	}
}

func TestBuildDropsServerShippedWellKnownFiles(t *testing.T) {
	// A server copy of timestamp.proto with a bogus layout must be
	// replaced, not trusted.
	bogus := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("google/protobuf/timestamp.proto"),
		Package: proto.String("google.protobuf"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Timestamp")},
		},
	}

	pool, err := Build("shop.v1.UserService", []*descriptorpb.FileDescriptorProto{
		userFile("google/protobuf/timestamp.proto", "google/protobuf/empty.proto"),
		bogus,
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if _, err := pool.Messages().FindDescriptorByName("google.protobuf.Timestamp"); err != nil {
		t.Fatalf("Timestamp not resolvable: %v", err)
	}

	fd, err := pool.Messages().FindFileByPath("google/protobuf/timestamp.proto")
	if err != nil {
		t.Fatalf("timestamp.proto missing: %v", err)
	}
	if fd.Messages().ByName("Timestamp").Fields().Len() != 2 {
		t.Fatal("server-shipped empty Timestamp survived patching")
	}
}

func TestBuildErrorCarriesDiagnostics(t *testing.T) {
	broken := userFile()
	// Reference a type no file defines.
	broken.Service[0].Method[0].InputType = proto.String(".shop.v1.Missing")

	_, err := Build("shop.v1.UserService", []*descriptorpb.FileDescriptorProto{broken})
	if err == nil {
		t.Fatal("Build() succeeded with unresolvable reference")
	}
	if !strings.Contains(err.Error(), "shop.v1.UserService") {
		t.Errorf("error %q does not name the service symbol", err)
	}
	if !strings.Contains(err.Error(), "shop/v1/users.proto") {
		t.Errorf("error %q does not list available files", err)
	}
}

func TestMethodLookupErrors(t *testing.T) {
	pool, err := Build("shop.v1.UserService", []*descriptorpb.FileDescriptorProto{userFile()})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if _, err := pool.Method("shop.v1.UserService.GetUser"); err == nil {
		t.Error("malformed method name accepted")
	}
	if _, err := pool.Method("shop.v1.Nope/GetUser"); err == nil {
		t.Error("unknown service accepted")
	}
	if _, err := pool.Method("shop.v1.UserService/Frobnicate"); err == nil {
		t.Error("unknown method accepted")
	}
}
