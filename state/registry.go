package state

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

const (
	typeKey  = "_type"
	valueKey = "_value"

	// bytesTypeName tags raw byte blobs so they survive the JSON round-trip
	// as []byte instead of base64 strings.
	bytesTypeName = "_bytes"

	// mapTypeName escapes user maps that themselves contain the _type key,
	// so they are not misread as typed wrappers on load.
	mapTypeName = "_map"
)

// Registry maps named types to their reflect.Type so opaque pipeline objects
// (molecule handles, solver state, graphs) stored inside a checkpoint can be
// reconstructed on load. Values of registered types are serialized as
// {"_type": name, "_value": <json>} wherever they appear in the record tree;
// unregistered values fall back to plain JSON. User maps that happen to
// contain a "_type" key are escaped on save and restored verbatim on load.
type Registry struct {
	mu         sync.RWMutex
	nameToType map[string]reflect.Type
	typeToName map[reflect.Type]string
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToType: make(map[string]reflect.Type),
		typeToName: make(map[reflect.Type]string),
	}
}

// defaultRegistry is the process-wide registry used by stores unless
// overridden with WithRegistry.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterType registers value's type under name in the default registry.
//
//	var mol RDMol
//	state.RegisterType(mol, "RDMol")
func RegisterType(value any, name string) error {
	return defaultRegistry.Register(value, name)
}

// Register registers value's type under name. Only structs and pointers to
// structs are accepted; registering the same type under a different name is
// an error.
func (r *Registry) Register(value any, name string) error {
	t := reflect.TypeOf(value)
	if t == nil {
		return fmt.Errorf("cannot register nil value as %s", name)
	}

	elem := t
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("type %s must be a struct or pointer to struct", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.typeToName[t]; ok && existing != name {
		return fmt.Errorf("type %v already registered as %s", t, existing)
	}
	if existing, ok := r.nameToType[name]; ok && existing != t {
		return fmt.Errorf("name %s already registered for %v", name, existing)
	}

	r.nameToType[name] = t
	r.typeToName[t] = name
	return nil
}

func (r *Registry) lookupName(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.typeToName[t]
	return name, ok
}

func (r *Registry) lookupType(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.nameToType[name]
	return t, ok
}

// encodeRecord serializes a full checkpoint record, wrapping registered types
// and byte blobs wherever they occur in the tree.
func (r *Registry) encodeRecord(fields map[string]any) ([]byte, error) {
	wrapped, err := r.wrap(fields)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(wrapped, "", "  ")
}

// decodeRecord is the inverse of encodeRecord.
func (r *Registry) decodeRecord(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	decoded, err := r.unwrap(raw)
	if err != nil {
		return nil, err
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checkpoint root is %T, expected an object", decoded)
	}
	return fields, nil
}

func (r *Registry) wrap(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return map[string]any{
			typeKey:  bytesTypeName,
			valueKey: base64.StdEncoding.EncodeToString(v),
		}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			wrapped, err := r.wrap(val)
			if err != nil {
				return nil, err
			}
			out[key] = wrapped
		}
		if _, reserved := v[typeKey]; reserved {
			return map[string]any{
				typeKey:  mapTypeName,
				valueKey: out,
			}, nil
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			wrapped, err := r.wrap(val)
			if err != nil {
				return nil, err
			}
			out[i] = wrapped
		}
		return out, nil
	}

	if name, ok := r.lookupName(reflect.TypeOf(value)); ok {
		inner, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal registered type %s: %w", name, err)
		}
		return map[string]any{
			typeKey:  name,
			valueKey: json.RawMessage(inner),
		}, nil
	}

	// Strings, numbers, bools and anything plain-JSON-serializable pass
	// through untouched.
	return value, nil
}

func (r *Registry) unwrap(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if name, ok := v[typeKey].(string); ok {
			if inner, exists := v[valueKey]; exists && len(v) == 2 {
				return r.unwrapTyped(name, inner)
			}
		}
		out := make(map[string]any, len(v))
		for key, val := range v {
			decoded, err := r.unwrap(val)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			decoded, err := r.unwrap(val)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	}
	return value, nil
}

func (r *Registry) unwrapTyped(name string, inner any) (any, error) {
	if name == bytesTypeName {
		encoded, ok := inner.(string)
		if !ok {
			return nil, fmt.Errorf("byte blob value is %T, expected string", inner)
		}
		return base64.StdEncoding.DecodeString(encoded)
	}

	if name == mapTypeName {
		escaped, ok := inner.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("escaped map value is %T, expected object", inner)
		}
		// Unwrap the entries individually; the escaped map itself must not
		// go through wrapper detection again.
		out := make(map[string]any, len(escaped))
		for key, val := range escaped {
			decoded, err := r.unwrap(val)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	}

	t, ok := r.lookupType(name)
	if !ok {
		return nil, fmt.Errorf("unknown registered type %q", name)
	}

	// inner was decoded as generic JSON; re-marshal it so it can be
	// unmarshaled into the concrete type.
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}

	if t.Kind() == reflect.Ptr {
		ptr := reflect.New(t.Elem())
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("unmarshal registered type %s: %w", name, err)
		}
		return ptr.Interface(), nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("unmarshal registered type %s: %w", name, err)
	}
	return ptr.Elem().Interface(), nil
}
