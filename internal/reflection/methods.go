package reflection

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/descriptorpb"
)

// Method is one RPC of a backend service.
type Method struct {
	// Name is the bare method name, e.g. "GetUser".
	Name string
	// FullName is the invocation form, e.g. "shop.v1.UserService/GetUser".
	FullName string
}

// ListMethods returns the methods of one service, resolved from the file
// descriptor that defines it.
func (c *Client) ListMethods(ctx context.Context, serviceName string) ([]Method, error) {
	files, err := c.FileContainingSymbol(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return MethodsFromFiles(serviceName, files)
}

// MethodsFromFiles extracts a service's methods from an already fetched
// descriptor set, saving a second reflection round trip when the caller
// needs the files anyway.
func MethodsFromFiles(serviceName string, files []*descriptorpb.FileDescriptorProto) ([]Method, error) {
	// The service's simple name within its file.
	simple := serviceName
	if i := strings.LastIndex(serviceName, "."); i >= 0 {
		simple = serviceName[i+1:]
	}

	for _, fd := range files {
		for _, svc := range fd.GetService() {
			if svc.GetName() != simple {
				continue
			}
			qualified := svc.GetName()
			if pkg := fd.GetPackage(); pkg != "" {
				qualified = pkg + "." + qualified
			}
			if qualified != serviceName {
				continue
			}

			methods := make([]Method, 0, len(svc.GetMethod()))
			for _, m := range svc.GetMethod() {
				methods = append(methods, Method{
					Name:     m.GetName(),
					FullName: serviceName + "/" + m.GetName(),
				})
			}
			return methods, nil
		}
	}
	return nil, fmt.Errorf("reflection: service %s not found in returned descriptors", serviceName)
}
