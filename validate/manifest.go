package validate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tensorlake/sdk-go/manifest"
	"github.com/tensorlake/sdk-go/registry"
)

// BuildManifest assembles the wire manifest for app from the registry
// built from the registry at deploy time. It includes every
// registered function, not just those reachable from app — Go has no static
// call-graph extraction without parsing source, and a function the
// scheduler never dispatches to is harmless to describe. Issues mirror
// Validate's findings for the parameters BuildManifest could not turn into
// a schema; callers should treat a non-empty issue list as "do not deploy".
func BuildManifest(app *registry.ApplicationDescriptor) (*manifest.Application, []Issue) {
	var issues []Issue

	functions := map[string]manifest.FunctionManifest{}
	for _, fn := range registry.All() {
		fm, fnIssues := functionManifest(fn)
		functions[fn.Name] = fm
		issues = append(issues, fnIssues...)
	}

	entrypoint, entryIssues := entrypointManifest(app)
	issues = append(issues, entryIssues...)

	m := &manifest.Application{
		Name:       app.Name,
		Tags:       app.Tags,
		Version:    app.Version,
		Functions:  functions,
		Entrypoint: entrypoint,
	}
	return m, issues
}

func functionManifest(fn *registry.FunctionDescriptor) (manifest.FunctionManifest, []Issue) {
	var issues []Issue

	gpus := make([]manifest.GPURequest, 0, len(fn.Resources.GPUs))
	for _, g := range fn.Resources.GPUs {
		gpus = append(gpus, manifest.GPURequest{Count: g.Count, Model: g.Model})
	}

	start := 0
	if fn.ClassName != "" {
		start = 1
	}
	params := make([]manifest.Parameter, 0, fn.FuncType.NumIn())
	for i := start; i < fn.FuncType.NumIn(); i++ {
		schema, err := schemaForType(fn.FuncType.In(i))
		if err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  fmt.Sprintf("parameter %d: %v", i, err),
			})
			schema = json.RawMessage(`{}`)
		}
		params = append(params, manifest.Parameter{
			Name:     fmt.Sprintf("arg%d", i-start),
			Type:     schema,
			Required: true,
		})
	}

	var returnType json.RawMessage
	if fn.FuncType.NumOut() == 2 {
		schema, err := schemaForType(fn.FuncType.Out(0))
		if err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  fmt.Sprintf("return type: %v", err),
			})
			schema = json.RawMessage(`{}`)
		}
		returnType = schema
	}

	return manifest.FunctionManifest{
		Name: fn.Name,
		Resources: manifest.ResourceRequest{
			CPUs:   fn.Resources.CPUs,
			MB:     fn.Resources.Memory,
			DiskMB: fn.Resources.Disk,
			GPUs:   gpus,
		},
		Retries: manifest.RetryPolicy{
			MaxRetries:      fn.Retries.MaxRetries,
			InitialDelaySec: float64(fn.Retries.InitialDelayMS) / 1000,
			MaxDelaySec:     float64(fn.Retries.MaxDelayMS) / 1000,
			DelayMultiplier: fn.Retries.DelayMultiplier,
		},
		Parameters:     params,
		ReturnType:     returnType,
		MaxConcurrency: fn.MaxConcurrency,
		CallTimeoutSec: fn.TimeoutSec,
	}, issues
}

func entrypointManifest(app *registry.ApplicationDescriptor) (manifest.Entrypoint, []Issue) {
	var issues []Issue

	start := 0
	if app.ClassName != "" {
		start = 1
	}
	args := make([]manifest.EntrypointArg, 0, app.FuncType.NumIn())
	for i := start; i < app.FuncType.NumIn(); i++ {
		schema, err := schemaForType(app.FuncType.In(i))
		if err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  app.Name,
				File:     app.SourceFile(),
				Message:  fmt.Sprintf("entrypoint parameter %d: %v", i, err),
			})
			schema = json.RawMessage(`{}`)
		}
		args = append(args, manifest.EntrypointArg{
			ArgName:  fmt.Sprintf("arg%d", i-start),
			TypeHint: schema,
		})
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Subject:  app.Name,
			File:     app.SourceFile(),
			Message:  fmt.Sprintf("encoding entrypoint args: %v", err),
		})
	}

	var outputHints []byte
	if app.FuncType.NumOut() == 2 {
		schema, err := schemaForType(app.FuncType.Out(0))
		if err == nil {
			outputHints = schema
		}
	}

	return manifest.Entrypoint{
		FunctionName:          app.Name,
		InputSerializer:       app.InputSerializer,
		InputsBase64:          base64.StdEncoding.EncodeToString(argsJSON),
		OutputSerializer:      app.OutputSerializer,
		OutputTypeHintsBase64: base64.StdEncoding.EncodeToString(outputHints),
	}, issues
}
