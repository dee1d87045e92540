// Package registry is the process-wide mapping of function and
// application names to the decorated callables, populated as user code
// registers them (there is no reflection-based decorator in Go, so
// RegisterFunction/RegisterApplication play that role explicitly) and
// consulted by runners at dispatch time.
package registry

import (
	"reflect"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// RetryPolicy controls how many times the local runner retries a failed
// call and the backoff schedule between attempts (see
// localrunner's backoff).
type RetryPolicy struct {
	MaxRetries      int
	InitialDelayMS  int
	MaxDelayMS      int
	DelayMultiplier float64
}

// GPURequest names a GPU model and how many are requested.
type GPURequest struct {
	Count int
	Model string
}

// ResourceRequest is the resource envelope a function asks the scheduler
// for.
type ResourceRequest struct {
	CPUs   float64
	Memory int // MB
	Disk   int // MB
	GPUs   []GPURequest
}

// FunctionDescriptor is the immutable configuration captured when a
// function is registered.
type FunctionDescriptor struct {
	Name             string
	ClassName        string // "" if this is not a method-function
	InputSerializer  string
	OutputSerializer string
	Retries          RetryPolicy
	Resources        ResourceRequest
	TimeoutSec       int
	Region           string
	MaxConcurrency   int
	Image            string

	// Callable is the user procedure, invoked by reflection. Its first
	// parameter is the receiver when ClassName != "", otherwise the first
	// declared parameter is the first logical function argument.
	Callable reflect.Value
	FuncType reflect.Type

	sourceFile string
}

// ApplicationDescriptor is a FunctionDescriptor plus the attributes that
// make a function externally callable.
type ApplicationDescriptor struct {
	FunctionDescriptor
	Tags         map[string]string
	RegionPolicy string
	Version      string // unique alphanumeric nonce per load
}

// Option configures a FunctionDescriptor at registration time.
type Option func(*FunctionDescriptor)

func WithClassName(name string) Option { return func(d *FunctionDescriptor) { d.ClassName = name } }
func WithInputSerializer(name string) Option {
	return func(d *FunctionDescriptor) { d.InputSerializer = name }
}
func WithOutputSerializer(name string) Option {
	return func(d *FunctionDescriptor) { d.OutputSerializer = name }
}
func WithRetries(policy RetryPolicy) Option {
	return func(d *FunctionDescriptor) { d.Retries = policy }
}
func WithResources(r ResourceRequest) Option { return func(d *FunctionDescriptor) { d.Resources = r } }
func WithTimeoutSec(s int) Option            { return func(d *FunctionDescriptor) { d.TimeoutSec = s } }
func WithRegion(region string) Option        { return func(d *FunctionDescriptor) { d.Region = region } }
func WithMaxConcurrency(n int) Option { return func(d *FunctionDescriptor) { d.MaxConcurrency = n } }
func WithImage(image string) Option   { return func(d *FunctionDescriptor) { d.Image = image } }

// ApplicationOption configures an ApplicationDescriptor.
type ApplicationOption func(*ApplicationDescriptor)

func WithTags(tags map[string]string) ApplicationOption {
	return func(d *ApplicationDescriptor) { d.Tags = tags }
}
func WithRegionPolicy(policy string) ApplicationOption {
	return func(d *ApplicationDescriptor) { d.RegionPolicy = policy }
}

type registry struct {
	mu           sync.RWMutex
	functions    map[string]*FunctionDescriptor
	applications map[string]*ApplicationDescriptor
	classes      map[string]ClassDescriptor
}

var global = newRegistry()

func newRegistry() *registry {
	return &registry{
		functions:    map[string]*FunctionDescriptor{},
		applications: map[string]*ApplicationDescriptor{},
		classes:      map[string]ClassDescriptor{},
	}
}

// ClassDescriptor registers the parameter-free constructor for a class
// carrying method-functions, so the local runner's class-instance cache
// (one lazily constructed singleton per class) knows how
// to build the instance the first time a method on it runs.
type ClassDescriptor struct {
	Name       string
	New        func() (any, error)
	sourceFile string
}

// RegisterClass registers className's constructor. Idempotent when
// re-registered from the same source file, matching RegisterFunction.
func RegisterClass(className string, ctor func() (any, error)) error {
	_, file, _, _ := runtime.Caller(1)
	global.mu.Lock()
	defer global.mu.Unlock()
	if existing, ok := global.classes[className]; ok && existing.sourceFile != file {
		return sdkerrors.NewUsageError("registry: class %q already registered from %q", className, existing.sourceFile)
	}
	global.classes[className] = ClassDescriptor{Name: className, New: ctor, sourceFile: file}
	return nil
}

// GetClass looks up a registered class constructor by name.
func GetClass(className string) (ClassDescriptor, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	d, ok := global.classes[className]
	return d, ok
}

// AllClasses returns every registered class descriptor, for the validate
// package to walk.
func AllClasses() []ClassDescriptor {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]ClassDescriptor, 0, len(global.classes))
	for _, d := range global.classes {
		out = append(out, d)
	}
	return out
}

func defaultDescriptor(name string, fn any) (*FunctionDescriptor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, sdkerrors.NewUsageError("registry: %q is not a function", name)
	}
	_, file, _, _ := runtime.Caller(2)
	return &FunctionDescriptor{
		Name:             name,
		InputSerializer:  serializer.JSON,
		OutputSerializer: serializer.JSON,
		Retries:          RetryPolicy{MaxRetries: 0},
		Callable:         v,
		FuncType:         v.Type(),
		sourceFile:       file,
	}, nil
}

// RegisterFunction registers fn under name. Re-registration from the same
// absolute source file is idempotent (to accommodate a script imported
// twice); registering the same name from a different file fails here with
// a UsageError.
func RegisterFunction(name string, fn any, opts ...Option) error {
	d, err := defaultDescriptor(name, fn)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(d)
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if existing, ok := global.functions[name]; ok && existing.sourceFile != d.sourceFile {
		return sdkerrors.NewUsageError("registry: function %q already registered from %q", name, existing.sourceFile)
	}
	global.functions[name] = d
	return nil
}

// RegisterApplication registers fn as an application: a function marked as
// an externally callable entry point. A fresh version nonce is minted each
// time (each process load gets a new one).
func RegisterApplication(name string, fn any, opts ...Option) error {
	d, err := defaultDescriptor(name, fn)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(d)
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if existing, ok := global.applications[name]; ok && existing.sourceFile != d.sourceFile {
		return sdkerrors.NewUsageError("registry: application %q already registered from %q", name, existing.sourceFile)
	}
	global.functions[name] = d
	global.applications[name] = &ApplicationDescriptor{
		FunctionDescriptor: *d,
		Tags:               map[string]string{},
		Version:            uuid.NewString(),
	}
	return nil
}

// Get looks up a registered function by name.
func Get(name string) (*FunctionDescriptor, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	d, ok := global.functions[name]
	return d, ok
}

// GetApplication looks up a registered application by name.
func GetApplication(name string) (*ApplicationDescriptor, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	d, ok := global.applications[name]
	return d, ok
}

// All returns every registered function descriptor, for the validate
// package to walk.
func All() []*FunctionDescriptor {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]*FunctionDescriptor, 0, len(global.functions))
	for _, d := range global.functions {
		out = append(out, d)
	}
	return out
}

// AllApplications returns every registered application descriptor.
func AllApplications() []*ApplicationDescriptor {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]*ApplicationDescriptor, 0, len(global.applications))
	for _, d := range global.applications {
		out = append(out, d)
	}
	return out
}

// SourceFile reports the absolute path a descriptor was registered from.
func (d *FunctionDescriptor) SourceFile() string { return d.sourceFile }

// Clear resets the registry. Intended for tests only.
func Clear() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.functions = map[string]*FunctionDescriptor{}
	global.applications = map[string]*ApplicationDescriptor{}
	global.classes = map[string]ClassDescriptor{}
}

// EffectiveRetries returns fn's own retry policy, falling back to the
// application's default when fn declares none.
func EffectiveRetries(fn *FunctionDescriptor, app *ApplicationDescriptor) RetryPolicy {
	if fn.Retries.MaxRetries > 0 {
		return fn.Retries
	}
	if app != nil {
		return app.Retries
	}
	return fn.Retries
}
