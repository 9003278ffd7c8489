package descriptor

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Well-known type files the gateway can synthesize when a backend's
// reflection response references them without including them.
const (
	timestampProto = "google/protobuf/timestamp.proto"
	emptyProto     = "google/protobuf/empty.proto"
	durationProto  = "google/protobuf/duration.proto"
)

// wellKnownFiles maps file name to the fully qualified message it defines.
var wellKnownFiles = map[string]string{
	timestampProto: ".google.protobuf.Timestamp",
	emptyProto:     ".google.protobuf.Empty",
	durationProto:  ".google.protobuf.Duration",
}

// synthesizeWellKnown builds a minimal stand-in descriptor for one of the
// three well-known files. The message layout matches the canonical
// definitions, which is all protojson needs to apply its special forms.
func synthesizeWellKnown(name string) *descriptorpb.FileDescriptorProto {
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(name),
		Package: proto.String("google.protobuf"),
		Syntax:  proto.String("proto3"),
	}
	switch name {
	case timestampProto:
		fd.MessageType = []*descriptorpb.DescriptorProto{secondsNanosMessage("Timestamp")}
	case durationProto:
		fd.MessageType = []*descriptorpb.DescriptorProto{secondsNanosMessage("Duration")}
	case emptyProto:
		fd.MessageType = []*descriptorpb.DescriptorProto{{Name: proto.String("Empty")}}
	default:
		return nil
	}
	return fd
}

func secondsNanosMessage(name string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			{
				Name:   proto.String("seconds"),
				Number: proto.Int32(1),
				Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			},
			{
				Name:   proto.String("nanos"),
				Number: proto.Int32(2),
				Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			},
		},
	}
}
