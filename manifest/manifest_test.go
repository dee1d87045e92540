package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemasPassesForWellFormedTypes(t *testing.T) {
	app := &Application{
		Functions: map[string]FunctionManifest{
			"fn": {
				Parameters: []Parameter{
					{Name: "x", Type: json.RawMessage(`{"type":"integer"}`)},
				},
				ReturnType: json.RawMessage(`{"type":"string"}`),
			},
		},
	}
	assert.NoError(t, app.ValidateSchemas())
}

func TestValidateSchemasRejectsMalformedParameterType(t *testing.T) {
	app := &Application{
		Functions: map[string]FunctionManifest{
			"fn": {
				Parameters: []Parameter{
					{Name: "x", Type: json.RawMessage(`{"type": "not-a-real-type"}`)},
				},
			},
		},
	}
	err := app.ValidateSchemas()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fn")
}

func TestValidateSchemasRejectsMalformedReturnType(t *testing.T) {
	app := &Application{
		Functions: map[string]FunctionManifest{
			"fn": {
				ReturnType: json.RawMessage(`{"type": "not-a-real-type"}`),
			},
		},
	}
	err := app.ValidateSchemas()
	assert.Error(t, err)
}

func TestValidateSchemasSkipsEmptyTypes(t *testing.T) {
	app := &Application{
		Functions: map[string]FunctionManifest{
			"fn": {Parameters: []Parameter{{Name: "x"}}},
		},
	}
	assert.NoError(t, app.ValidateSchemas())
}

func TestApplicationJSONRoundTrip(t *testing.T) {
	app := Application{
		Name:    "app",
		Version: "1",
		Functions: map[string]FunctionManifest{
			"fn": {Name: "fn", Resources: ResourceRequest{CPUs: 1}},
		},
		Entrypoint: Entrypoint{FunctionName: "fn", InputSerializer: "json"},
	}
	b, err := json.Marshal(app)
	require.NoError(t, err)

	var got Application
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "app", got.Name)
	assert.Equal(t, "fn", got.Entrypoint.FunctionName)
}
