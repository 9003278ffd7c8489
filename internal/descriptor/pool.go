// Package descriptor builds resolvable proto descriptor pools from the
// file descriptors a backend returns over reflection. Reflection responses
// are frequently imperfect: servers ship their own copies of well-known
// type files, omit them entirely, or leave them out of a file's dependency
// list. The pool patches all three before building.
package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Pool resolves message and method descriptors for one backend.
type Pool struct {
	files *protoregistry.Files
}

// Build patches the descriptor set and resolves it into a Pool. Building
// is all-or-nothing; on failure the error carries the service symbol and
// the file names that were available.
func Build(serviceSymbol string, files []*descriptorpb.FileDescriptorProto) (*Pool, error) {
	patched := patch(files)

	reg, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: patched})
	if err != nil {
		names := make([]string, 0, len(patched))
		for _, fd := range patched {
			names = append(names, fd.GetName())
		}
		sort.Strings(names)
		return nil, fmt.Errorf("descriptor pool for %s: %w (files: %s)",
			serviceSymbol, err, strings.Join(names, ", "))
	}
	return &Pool{files: reg}, nil
}

// patch normalizes a reflection-sourced descriptor set:
// server-shipped well-known files are dropped, referenced-but-missing
// well-known files are synthesized, and missing dependency entries are
// added.
func patch(files []*descriptorpb.FileDescriptorProto) []*descriptorpb.FileDescriptorProto {
	kept := make([]*descriptorpb.FileDescriptorProto, 0, len(files))
	for _, fd := range files {
		if _, isWKT := wellKnownFiles[fd.GetName()]; isWKT {
			continue
		}
		kept = append(kept, fd)
	}

	needed := map[string]bool{}
	for _, fd := range kept {
		for wktFile, wktType := range wellKnownFiles {
			if referencesType(fd, wktType) {
				needed[wktFile] = true
				ensureDependency(fd, wktFile)
			}
		}
		// A dependency entry without a backing file also needs synthesis.
		for _, dep := range fd.GetDependency() {
			if _, isWKT := wellKnownFiles[dep]; isWKT {
				needed[dep] = true
			}
		}
	}

	var synth []*descriptorpb.FileDescriptorProto
	for _, name := range []string{timestampProto, emptyProto, durationProto} {
		if needed[name] {
			synth = append(synth, synthesizeWellKnown(name))
		}
	}
	return append(synth, kept...)
}

// referencesType reports whether any message field or service I/O type in
// the file names the given fully qualified type.
func referencesType(fd *descriptorpb.FileDescriptorProto, typeName string) bool {
	var inMessage func(m *descriptorpb.DescriptorProto) bool
	inMessage = func(m *descriptorpb.DescriptorProto) bool {
		for _, f := range m.GetField() {
			if f.GetTypeName() == typeName {
				return true
			}
		}
		for _, nested := range m.GetNestedType() {
			if inMessage(nested) {
				return true
			}
		}
		return false
	}

	for _, m := range fd.GetMessageType() {
		if inMessage(m) {
			return true
		}
	}
	for _, svc := range fd.GetService() {
		for _, method := range svc.GetMethod() {
			if method.GetInputType() == typeName || method.GetOutputType() == typeName {
				return true
			}
		}
	}
	return false
}

func ensureDependency(fd *descriptorpb.FileDescriptorProto, dep string) {
	for _, d := range fd.GetDependency() {
		if d == dep {
			return
		}
	}
	fd.Dependency = append(fd.Dependency, dep)
}

// Method locates a method descriptor by its slash form,
// "shop.v1.UserService/GetUser".
func (p *Pool) Method(fullMethod string) (protoreflect.MethodDescriptor, error) {
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return nil, fmt.Errorf("malformed method name %q", fullMethod)
	}

	desc, err := p.files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", service, err)
	}
	sd, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", service)
	}

	md := sd.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("service %s has no method %s", service, method)
	}
	return md, nil
}

// Messages exposes the resolved file registry for message lookup.
func (p *Pool) Messages() *protoregistry.Files {
	return p.files
}
