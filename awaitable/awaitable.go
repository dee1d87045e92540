// Package awaitable holds the immutable, composable description of work:
// function calls, gathered lists, and reduce chains. These are the
// user-visible building blocks; handing one to Run/RunLater produces a
// future.Future from whichever runner is currently bound (see
// runtimehooks).
package awaitable

import (
	"time"

	"github.com/google/uuid"
	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/runtimehooks"
	"github.com/tensorlake/sdk-go/sdkerrors"
)

// Kind discriminates the three awaitable variants.
type Kind int

const (
	KindCall Kind = iota
	KindList
	KindReduce
)

// Awaitable is the common shape of the three variants; only Call and Reduce
// are Runnable. List exists to gather arguments and is never submitted to a
// runner on its own.
type Awaitable interface {
	ID() string
	Kind() Kind
}

// NewID mints a request-scoped unique id.
func NewID() string { return uuid.NewString() }

// Call describes an invocation of a registered function, with each
// positional and keyword argument either a plain user value or another
// Awaitable (a data-dependency edge).
type Call struct {
	id                       string
	FunctionName             string
	Args                     []any
	Kwargs                   map[string]any
	OutputSerializerOverride string // "" means none; set when this call is tail-called into by a caller with a different output serializer.

	delay    time.Duration
	startAt  *time.Time
	tailCall bool
}

// NewCall builds a Call awaitable. args/kwargs entries may be plain values
// or other Awaitables.
func NewCall(functionName string, args []any, kwargs map[string]any) *Call {
	return NewCallWithID(NewID(), functionName, args, kwargs)
}

// NewCallWithID is NewCall with a caller-supplied id, used when
// reconstructing a Call from its wire representation (the id must match the
// original node's id, not a freshly minted one).
func NewCallWithID(id, functionName string, args []any, kwargs map[string]any) *Call {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Call{id: id, FunctionName: functionName, Args: args, Kwargs: kwargs}
}

func (c *Call) ID() string  { return c.id }
func (c *Call) Kind() Kind  { return KindCall }
func (c *Call) Delay() time.Duration { return c.delay }
func (c *Call) StartAt() *time.Time  { return c.startAt }
func (c *Call) IsTailCall() bool     { return c.tailCall }

// Run hands the call to the currently bound runner and returns its future.
func (c *Call) Run() (*future.Future, error) { return runOne(c) }

// RunLater is Run with a non-negative relative start delay.
func (c *Call) RunLater(delay time.Duration) (*future.Future, error) {
	c.delay = delay
	return runOne(c)
}

// Await is Run().Result(future.NoTimeout).
func (c *Call) Await() (any, error) { return awaitOne(c) }

// WithOutputSerializerOverride returns a shallow copy of c carrying the
// override. Used by the AST builder and the local runner to implement
// serializer inheritance: a tail-called subtree's root output serializer is
// rewritten to the caller's.
func (c *Call) WithOutputSerializerOverride(name string) *Call {
	clone := *c
	clone.OutputSerializerOverride = name
	return &clone
}

// DeriveFrom copies source's scheduling intent onto c: a call built from a
// delayed or tail-called future inherits that delay / tail-call marker.
func (c *Call) DeriveFrom(source *future.Future) {
	if source == nil {
		return
	}
	if d := source.Delay(); d > 0 {
		c.delay = d
	}
	if source.IsTailCall() {
		c.tailCall = true
	}
}

// DeriveReduceSchedule copies a reducer's start delay and output-serializer
// override onto c, one link of that reducer's lowered call chain: every
// intermediate future inherits the reducer's start-delay and
// output-serializer override.
func (c *Call) DeriveReduceSchedule(r *Reduce) {
	c.delay = r.delay
	c.OutputSerializerOverride = r.OutputSerializerOverride
}

// Reduce describes a left-fold over a binary function: f(f(f(a,b),c),d).
type Reduce struct {
	id                       string
	FunctionName             string
	Inputs                   []any
	OutputSerializerOverride string

	delay   time.Duration
	startAt *time.Time
}

// NewReduce builds a Reduce awaitable. inputs must have at least one
// element; callers wanting an initial value should prepend it themselves,
// e.g. NewReduce(fn, append([]any{initial}, items...)).
func NewReduce(functionName string, inputs []any) (*Reduce, error) {
	if len(inputs) == 0 {
		return nil, sdkerrors.NewUsageError("reduce %q requires at least one input", functionName)
	}
	return &Reduce{id: NewID(), FunctionName: functionName, Inputs: inputs}, nil
}

// NewReduceWithID is NewReduce with a caller-supplied id, used when
// reconstructing a Reduce from its wire representation.
func NewReduceWithID(id, functionName string, inputs []any) *Reduce {
	return &Reduce{id: id, FunctionName: functionName, Inputs: inputs}
}

func (r *Reduce) ID() string  { return r.id }
func (r *Reduce) Kind() Kind  { return KindReduce }

// WithOutputSerializerOverride returns a shallow copy of r carrying the
// override, mirroring Call.WithOutputSerializerOverride.
func (r *Reduce) WithOutputSerializerOverride(name string) *Reduce {
	clone := *r
	clone.OutputSerializerOverride = name
	return &clone
}
func (r *Reduce) Delay() time.Duration { return r.delay }
func (r *Reduce) StartAt() *time.Time  { return r.startAt }

func (r *Reduce) Run() (*future.Future, error) { return runOne(r) }

func (r *Reduce) RunLater(delay time.Duration) (*future.Future, error) {
	r.delay = delay
	return runOne(r)
}

func (r *Reduce) Await() (any, error) { return awaitOne(r) }

// List is an ordered list of items, each a plain value or an Awaitable. It
// may appear as a function argument (the AST builder "gathers" it inline)
// but is never itself run: it has no future and is not returned by
// function bodies.
type List struct {
	id    string
	Items []any
}

// NewList builds a gather-list awaitable from heterogeneous items.
func NewList(items ...any) *List {
	return &List{id: NewID(), Items: items}
}

func (l *List) ID() string { return l.id }
func (l *List) Kind() Kind { return KindList }

func runOne(a runtimehooks.Awaitable) (*future.Future, error) {
	ops, err := runtimehooks.Current()
	if err != nil {
		return nil, err
	}
	futures, err := ops.StartFunctionCalls([]runtimehooks.Awaitable{a})
	if err != nil {
		return nil, err
	}
	if len(futures) != 1 {
		return nil, sdkerrors.NewInternalError("runner returned %d futures for 1 submitted awaitable", len(futures))
	}
	return futures[0], nil
}

func awaitOne(a runtimehooks.Awaitable) (any, error) {
	fut, err := runOne(a)
	if err != nil {
		return nil, err
	}
	return fut.Result(future.NoTimeout)
}
