// Package manifest holds the wire JSON types the SDK exchanges with the
// remote scheduler: the static description of an application and its
// functions, built from the registry at deploy time and
// consumed by the remote runner to learn an application's entrypoint
// serializer and declared parameter schema.
package manifest

import "encoding/json"

// GPURequest mirrors registry.GPURequest on the wire.
type GPURequest struct {
	Count int    `json:"count"`
	Model string `json:"model"`
}

// ResourceRequest mirrors registry.ResourceRequest on the wire.
type ResourceRequest struct {
	CPUs   float64     `json:"cpus"`
	MB     int         `json:"mb_memory"`
	DiskMB int         `json:"mb_disk"`
	GPUs   []GPURequest `json:"gpus,omitempty"`
}

// RetryPolicy mirrors registry.RetryPolicy on the wire.
type RetryPolicy struct {
	MaxRetries      int     `json:"max_retries"`
	InitialDelaySec float64 `json:"initial_delay_sec"`
	MaxDelaySec     float64 `json:"max_delay_sec"`
	DelayMultiplier float64 `json:"delay_multiplier"`
}

// Parameter describes one declared application/function parameter via a
// JSON-Schema type, replacing runtime reflection over type hints with a
// structured, wire-carried schema (DESIGN NOTES: "reflection of type hints
// -> declared schema").
type Parameter struct {
	Name        string          `json:"name"`
	Type        json.RawMessage `json:"type"` // JSON-Schema fragment
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
}

// PlacementConstraint is one `region==X`-shaped filter expression.
type PlacementConstraint string

// FunctionManifest is the static description of one registered function.
type FunctionManifest struct {
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	IsAPI          bool                `json:"is_api"`
	SecretNames    []string            `json:"secret_names,omitempty"`
	InitTimeoutSec int                 `json:"init_timeout_sec,omitempty"`
	CallTimeoutSec int                 `json:"call_timeout_sec,omitempty"`
	Resources      ResourceRequest     `json:"resources"`
	Retries        RetryPolicy         `json:"retries"`
	CacheKey       *string             `json:"cache_key,omitempty"`
	Parameters     []Parameter         `json:"parameters"`
	ReturnType     json.RawMessage     `json:"return_type,omitempty"`
	Placement      []PlacementConstraint `json:"placement_constraints,omitempty"`
	MaxConcurrency int                 `json:"max_concurrency,omitempty"`
}

// Entrypoint is the manifest's description of how to call the application
// from outside: its input serializer, the ordered argument schema (encoded
// as a base64 blob of a serialized list, matching the source wire shape),
// and the output serializer plus return type hints.
type Entrypoint struct {
	FunctionName          string `json:"function_name"`
	InputSerializer       string `json:"input_serializer"`
	InputsBase64          string `json:"inputs_base64"`
	OutputSerializer      string `json:"output_serializer"`
	OutputTypeHintsBase64 string `json:"output_type_hints_base64"`
}

// Application is the full wire manifest for one application: its own
// metadata plus a FunctionManifest per function. validate.BuildManifest
// includes every registered function, not only those the application calls.
type Application struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Tags        map[string]string           `json:"tags,omitempty"`
	Version     string                      `json:"version"`
	Functions   map[string]FunctionManifest `json:"functions"`
	Entrypoint  Entrypoint                  `json:"entrypoint"`
}

// EntrypointArg is one decoded element of Entrypoint.InputsBase64: the
// declared name and type hint for one positional application parameter.
type EntrypointArg struct {
	ArgName  string          `json:"arg_name"`
	TypeHint json.RawMessage `json:"type_hint"`
}
