package manifest

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateSchemas compiles every declared parameter and return-type schema
// in a fetched Application manifest with jsonschema/v5, catching a
// malformed schema (a scheduler bug, or a manifest tampered with in
// transit) before the remote runner trusts it to decode an argument or
// result.
func (a *Application) ValidateSchemas() error {
	for name, fn := range a.Functions {
		for i, p := range fn.Parameters {
			if len(p.Type) == 0 {
				continue
			}
			if _, err := jsonschema.CompileString(fmt.Sprintf("tensorlake://%s/param/%d", name, i), string(p.Type)); err != nil {
				return fmt.Errorf("manifest: function %q parameter %d: %w", name, i, err)
			}
		}
		if len(fn.ReturnType) > 0 {
			if _, err := jsonschema.CompileString(fmt.Sprintf("tensorlake://%s/return", name), string(fn.ReturnType)); err != nil {
				return fmt.Errorf("manifest: function %q return type: %w", name, err)
			}
		}
	}
	return nil
}
