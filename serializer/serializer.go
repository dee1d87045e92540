// Package serializer converts user values to and from bytes at function
// boundaries. Two named codecs are built in: "json" (human-compatible) and
// "binary" (a self-describing, full-fidelity encoding built on CBOR,
// adapted from the runtime/decorator stack in aledsdavies-opal). Named
// serializers are resolved from the registry by the AST and the local and
// remote runners so that encoding intent survives a trip across the wire.
package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Names of the two built-in serializers.
const (
	JSON   = "json"
	Binary = "binary"
)

// File represents a binary file-like value. The AST encodes it by storing
// raw bytes plus a content type and the class hint "file", bypassing the
// named serializer entirely.
type File struct {
	Data        []byte
	ContentType string
}

// Blob is the serialized form of a user value as it crosses a future
// boundary: bytes, the serializer that produced them, the content type, and
// a class hint used to pick a concrete Go type on decode.
type Blob struct {
	Data           []byte
	SerializerName string
	ContentType    string
	ClassHint      string
}

// Serializer is a named codec for user values.
type Serializer interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into a value. If hint resolves to a registered
	// Go type (see RegisterClassToken) the result is decoded into that
	// concrete type; otherwise it is decoded into a generic any.
	Unmarshal(data []byte, hint string) (any, error)
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string        { return JSON }
func (jsonSerializer) ContentType() string { return "application/json" }

func (jsonSerializer) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &marshalError{serializer: JSON, cause: err}
	}
	return b, nil
}

func (jsonSerializer) Unmarshal(data []byte, hint string) (any, error) {
	if t, ok := lookupClassToken(hint); ok {
		out := reflect.New(t)
		if err := json.Unmarshal(data, out.Interface()); err != nil {
			return nil, &marshalError{serializer: JSON, cause: err}
		}
		return out.Elem().Interface(), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &marshalError{serializer: JSON, cause: err}
	}
	return v, nil
}

type binarySerializer struct{}

func (binarySerializer) Name() string        { return Binary }
func (binarySerializer) ContentType() string { return "application/cbor" }

func (binarySerializer) Marshal(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, &marshalError{serializer: Binary, cause: err}
	}
	return b, nil
}

func (binarySerializer) Unmarshal(data []byte, hint string) (any, error) {
	if t, ok := lookupClassToken(hint); ok {
		out := reflect.New(t)
		if err := cbor.Unmarshal(data, out.Interface()); err != nil {
			return nil, &marshalError{serializer: Binary, cause: err}
		}
		return out.Elem().Interface(), nil
	}
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, &marshalError{serializer: Binary, cause: err}
	}
	return v, nil
}

type marshalError struct {
	serializer string
	cause      error
}

func (e *marshalError) Error() string { return fmt.Sprintf("serializer %q: %v", e.serializer, e.cause) }
func (e *marshalError) Unwrap() error { return e.cause }

var (
	mu         sync.RWMutex
	registered = map[string]Serializer{
		JSON:   jsonSerializer{},
		Binary: binarySerializer{},
	}
)

// ByName resolves a serializer by its wire name.
func ByName(name string) (Serializer, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registered[name]
	if !ok {
		return nil, fmt.Errorf("serializer: unknown serializer %q", name)
	}
	return s, nil
}

// Register adds or replaces a named serializer. Intended for host
// applications that need a codec beyond the two built-ins.
func Register(s Serializer) {
	mu.Lock()
	defer mu.Unlock()
	registered[s.Name()] = s
}

var (
	classTokensMu sync.RWMutex
	classTokens   = map[string]reflect.Type{}
)

// RegisterClassToken associates a class hint string (recorded in value
// nodes and blobs) with a concrete Go type, so Unmarshal can decode into
// that type instead of a generic any. This is the content-addressed
// replacement for a pickle-style class reference: the hint is a stable
// string token instead of a language-specific class pointer.
func RegisterClassToken(hint string, sample any) {
	classTokensMu.Lock()
	defer classTokensMu.Unlock()
	classTokens[hint] = reflect.TypeOf(sample)
}

// ClassTokenOf returns the class hint for v's Go type: its reflect type
// string (e.g. "serializer.point"), or "nil". It registers nothing;
// Unmarshal decodes into a concrete type only for hints added with
// RegisterClassToken.
func ClassTokenOf(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	return t.String()
}

func lookupClassToken(hint string) (reflect.Type, bool) {
	if hint == "" {
		return nil, false
	}
	classTokensMu.RLock()
	defer classTokensMu.RUnlock()
	t, ok := classTokens[hint]
	return t, ok
}
