// Package validate performs static analysis over the registry before an
// application is run or deployed: duplicate names are already
// rejected by registry at registration time, so this package's job is
// everything that needs the full picture — class wiring, signature shape,
// and parameter/return-type serializability.
package validate

import (
	"fmt"
	"reflect"

	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/registry"
)

// Severity classifies an Issue. Only SeverityError fails Report.OK.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Issue is one structured validation finding, grounded on the
// (severity, file, message) shape a classified-error type would carry
// through its own validation paths (internal/service/function_validation.go),
// generalized here to a value instead of an error so a full pass can
// accumulate many without short-circuiting on the first one.
type Issue struct {
	Severity Severity
	Subject  string // function, application, or class name the issue concerns
	File     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s (%s): %s", i.Severity, i.Subject, i.File, i.Message)
}

// Report is the outcome of a full Validate pass.
type Report struct {
	Issues []Issue
}

// OK reports whether the report is free of errors (warnings are allowed).
func (r Report) OK() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity issues.
func (r Report) Errors() []Issue {
	var out []Issue
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

var awaitableReturnTypes = []reflect.Type{
	reflect.TypeOf((*awaitable.Call)(nil)),
	reflect.TypeOf((*awaitable.Reduce)(nil)),
	reflect.TypeOf((*awaitable.List)(nil)),
}

// Validate walks every registered function, application, and class and
// returns the accumulated findings. It never mutates the registry.
func Validate() Report {
	var r Report

	classes := map[string]registry.ClassDescriptor{}
	for _, c := range registry.AllClasses() {
		classes[c.Name] = c
	}

	for _, fn := range registry.All() {
		r.Issues = append(r.Issues, validateFunction(fn, classes)...)
	}
	for _, app := range registry.AllApplications() {
		r.Issues = append(r.Issues, validateApplication(app)...)
	}
	return r
}

// validateFunction checks the static-analysis rules that apply to every
// registered callable, method-function or not: a declared class must
// actually have a registered constructor, a method-function must reserve
// its first parameter for the receiver, and the signature must end in
// error (the local runner's invoke() only recognizes that shape).
func validateFunction(fn *registry.FunctionDescriptor, classes map[string]registry.ClassDescriptor) []Issue {
	var issues []Issue

	if fn.ClassName != "" {
		if _, ok := classes[fn.ClassName]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  fmt.Sprintf("method function declares class %q, which has no registered constructor (tensorlake.Class)", fn.ClassName),
			})
		}
		if fn.FuncType.NumIn() == 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  "method function must reserve its first parameter for the class receiver (self)",
			})
		}
	}

	switch fn.FuncType.NumOut() {
	case 1:
		if !fn.FuncType.Out(0).Implements(errorType) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  "a single-return function must return error",
			})
		}
	case 2:
		if !fn.FuncType.Out(1).Implements(errorType) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  fn.Name,
				File:     fn.SourceFile(),
				Message:  "the last return value must be error",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Subject:  fn.Name,
			File:     fn.SourceFile(),
			Message:  "function must return (value, error) or (error)",
		})
	}
	return issues
}

// validateApplication additionally checks the application-only rules: its
// declared return type (ignoring the trailing error) must not itself be an
// awaitable type (tail-calling is how a function hands work off, not a
// return type an external caller would ever see), and every parameter must
// have a generatable JSON-Schema representation, since the manifest embeds
// one per declared parameter, confirming a schema can actually be generated.
func validateApplication(app *registry.ApplicationDescriptor) []Issue {
	var issues []Issue

	if app.FuncType.NumOut() == 2 {
		out := app.FuncType.Out(0)
		for _, t := range awaitableReturnTypes {
			if out == t {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Subject:  app.Name,
					File:     app.SourceFile(),
					Message:  "an application's return type must not itself be an awaitable; return the resolved value or tail-call instead",
				})
			}
		}
	}

	start := 0
	if app.ClassName != "" {
		start = 1
	}
	for i := start; i < app.FuncType.NumIn(); i++ {
		pt := app.FuncType.In(i)
		if _, err := schemaForType(pt); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Subject:  app.Name,
				File:     app.SourceFile(),
				Message:  fmt.Sprintf("parameter %d (%s) has no serializable JSON-Schema representation: %v", i, pt, err),
			})
		}
	}
	return issues
}
