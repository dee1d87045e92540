// Package tensorlake is the SDK's user-facing surface: decorate a procedure
// as a function or application, then invoke it either in-process (Run) or
// against a remote scheduler (RunRemote). It is a thin facade over
// registry, awaitable, localrunner, and remoterunner — Go has no decorator
// syntax, so Function/Application stand in for the source SDK's
// @tensorlake.function()/@tensorlake.application() decorators.
package tensorlake

import (
	"context"

	"github.com/google/uuid"
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/env"
	"github.com/tensorlake/sdk-go/localrunner"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/remoterunner"
	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/sdkerrors"
)

// Re-exported registry option types so call sites don't need a second
// import for tensorlake.Function(..., tensorlake.WithTimeoutSec(30)).
type (
	Option            = registry.Option
	ApplicationOption = registry.ApplicationOption
	RetryPolicy       = registry.RetryPolicy
	ResourceRequest   = registry.ResourceRequest
	GPURequest        = registry.GPURequest
)

var (
	WithClassName       = registry.WithClassName
	WithInputSerializer = registry.WithInputSerializer
	WithOutputSerializer = registry.WithOutputSerializer
	WithRetries         = registry.WithRetries
	WithResources       = registry.WithResources
	WithTimeoutSec      = registry.WithTimeoutSec
	WithRegion          = registry.WithRegion
	WithMaxConcurrency  = registry.WithMaxConcurrency
	WithImage           = registry.WithImage
	WithTags            = registry.WithTags
	WithRegionPolicy    = registry.WithRegionPolicy
)

// Function registers fn under name as a plain (non-entry) function.
func Function(name string, fn any, opts ...Option) error {
	return registry.RegisterFunction(name, fn, opts...)
}

// Application registers fn under name as the application entry point.
func Application(name string, fn any, opts ...Option) error {
	return registry.RegisterApplication(name, fn, opts...)
}

// Class registers className's parameter-free constructor, required for any
// function declared with WithClassName(className).
func Class(className string, ctor func() (any, error)) error {
	return registry.RegisterClass(className, ctor)
}

// Run invokes the named application in-process via the local runner: it
// builds the root Call from args/kwargs, drives it to completion with a
// fresh request id and an in-memory request context, and returns the
// decoded result.
func Run(appName string, args []any, kwargs map[string]any) (any, error) {
	app, ok := registry.GetApplication(appName)
	if !ok {
		return nil, sdkerrors.NewUsageError("tensorlake: application %q is not registered", appName)
	}

	root := awaitable.NewCall(appName, args, kwargs)
	reqID := uuid.NewString()
	ctx := reqcontext.NewBasic(reqID, nil)

	runner := localrunner.New(app, ctx)
	return runner.Run(root)
}

// RunRemote submits the named application to the scheduler at baseURL and
// blocks until the request finishes, returning its decoded output.
// token is the bearer credential (see env.Resolve for how a host
// application typically obtains one).
func RunRemote(ctx context.Context, baseURL, namespace, token, appName string, args []any, kwargs map[string]any) (any, error) {
	client := remoterunner.New(baseURL, namespace, token)
	req, err := client.Submit(ctx, appName, args, kwargs)
	if err != nil {
		return nil, err
	}
	return req.Output(ctx)
}

// RunRemoteFromEnv behaves like RunRemote but resolves the base URL and
// credential from the process environment via env.Resolve: the base URL
// from TENSORLAKE_API_URL (env.DefaultAPIURL when unset), the credential
// from TENSORLAKE_API_KEY, falling back to the TOML credentials file at
// env.DefaultCredentialsPath. A credential carrying organization/project
// ids (a stored personal-access token) is forwarded on every request.
func RunRemoteFromEnv(ctx context.Context, namespace, appName string, args []any, kwargs map[string]any) (any, error) {
	cfg, err := env.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	client := remoterunner.New(cfg.APIURL, namespace, cfg.Credential.Token).
		WithForwardedIDs(cfg.Credential.OrganizationID, cfg.Credential.ProjectID)
	req, err := client.Submit(ctx, appName, args, kwargs)
	if err != nil {
		return nil, err
	}
	return req.Output(ctx)
}
