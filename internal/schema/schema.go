// Package schema compiles the embedded .proto files at startup and bridges
// the resulting dynamic messages to plain Go structs.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	protodefs "github.com/supergoudvis116/joule-connector/proto"
)

var (
	loadOnce sync.Once
	files    linker.Files
	loadErr  error
)

// Load compiles the embedded schemas and registers them with the global
// protobuf registry so server reflection can describe them. It is safe to
// call more than once.
func Load() (linker.Files, error) {
	loadOnce.Do(func() {
		files, loadErr = compile(context.Background())
		if loadErr != nil {
			return
		}
		for _, file := range files {
			if _, err := protoregistry.GlobalFiles.FindFileByPath(file.Path()); err == nil {
				continue
			}
			if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
				loadErr = fmt.Errorf("register %s: %w", file.Path(), err)
				return
			}
		}
	})
	return files, loadErr
}

func compile(ctx context.Context) (linker.Files, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: func(path string) (io.ReadCloser, error) {
				return protodefs.Files.Open(path)
			},
		}),
	}
	compiled, err := compiler.Compile(ctx, protodefs.Paths...)
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}
	return compiled, nil
}

// FindMessage resolves a fully-qualified message name.
func FindMessage(name string) (protoreflect.MessageDescriptor, error) {
	desc, err := findDescriptor(name)
	if err != nil {
		return nil, err
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a message", name)
	}
	return md, nil
}

// FindService resolves a fully-qualified service name.
func FindService(name string) (protoreflect.ServiceDescriptor, error) {
	desc, err := findDescriptor(name)
	if err != nil {
		return nil, err
	}
	sd, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", name)
	}
	return sd, nil
}

func findDescriptor(name string) (protoreflect.Descriptor, error) {
	compiled, err := Load()
	if err != nil {
		return nil, err
	}
	for _, file := range compiled {
		if desc := file.FindDescriptorByName(protoreflect.FullName(name)); desc != nil {
			return desc, nil
		}
	}
	return nil, fmt.Errorf("schema %s not found", name)
}

// NewMessage returns an empty dynamic message of the named type.
func NewMessage(name string) (*dynamicpb.Message, error) {
	md, err := FindMessage(name)
	if err != nil {
		return nil, err
	}
	return dynamicpb.NewMessage(md), nil
}

// Decode copies a proto message into a Go value whose json tags use the
// proto field names.
func Decode(msg proto.Message, out any) error {
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return nil
}

// Encode copies a Go value into a proto message. Unknown fields are dropped.
func Encode(in any, msg proto.Message) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return nil
}
