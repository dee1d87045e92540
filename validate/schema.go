package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaForType derives a JSON-Schema fragment for a Go parameter or return
// type, then compiles it with jsonschema/v5 as a sanity check that the
// generated document is itself a schema jsonschema would accept before it
// is embedded in a manifest, to confirm one can actually be generated.
func schemaForType(t reflect.Type) (json.RawMessage, error) {
	doc, err := schemaDoc(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if _, err := jsonschema.CompileString(fmt.Sprintf("tensorlake://%s", t.String()), string(raw)); err != nil {
		return nil, fmt.Errorf("generated schema does not compile: %w", err)
	}
	return raw, nil
}

func schemaDoc(t reflect.Type, seen map[reflect.Type]bool) (map[string]any, error) {
	if t.Kind() == reflect.Ptr {
		return schemaDoc(t.Elem(), seen)
	}
	if seen[t] {
		// recursive type: an unconstrained schema beats an infinite walk
		return map[string]any{}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.Slice, reflect.Array:
		seen[t] = true
		items, err := schemaDoc(t.Elem(), seen)
		delete(seen, t)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "array", "items": items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not representable as a JSON object key", t.Key())
		}
		seen[t] = true
		additional, err := schemaDoc(t.Elem(), seen)
		delete(seen, t)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "object", "additionalProperties": additional}, nil
	case reflect.Struct:
		seen[t] = true
		props := map[string]any{}
		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue // unexported field
			}
			name := jsonFieldName(f)
			if name == "-" {
				continue
			}
			fs, err := schemaDoc(f.Type, seen)
			if err != nil {
				delete(seen, t)
				return nil, err
			}
			props[name] = fs
			required = append(required, name)
		}
		delete(seen, t)
		doc := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			doc["required"] = required
		}
		return doc, nil
	case reflect.Interface:
		return map[string]any{}, nil // any: unconstrained
	default:
		return nil, fmt.Errorf("kind %s has no JSON-Schema mapping", t.Kind())
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
