package localrunner

import (
	"time"

	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/runtimehooks"
	"github.com/tensorlake/sdk-go/sdkerrors"
)

// pollInterval is how long the control loop blocks on the result queue
// between runnability scans (on the order of 100ms).
const pollInterval = 100 * time.Millisecond

// StartFunctionCalls implements runtimehooks.RunnerOps: register each
// awaitable (recursively registering any nested Call/Reduce arguments it
// carries) and return its future, in input order.
func (r *Runner) StartFunctionCalls(calls []runtimehooks.Awaitable) ([]*future.Future, error) {
	out := make([]*future.Future, len(calls))
	for i, c := range calls {
		fut, err := r.register(c)
		if err != nil {
			return nil, err
		}
		out[i] = fut
	}
	return out, nil
}

// register dispatches to the concrete registration path for a Call or
// Reduce. Any other runtimehooks.Awaitable is a contract violation: the
// only two runnable awaitable kinds are Call and Reduce.
func (r *Runner) register(a runtimehooks.Awaitable) (*future.Future, error) {
	switch t := a.(type) {
	case *awaitable.Call:
		return r.registerCall(t)
	case *awaitable.Reduce:
		return r.lowerReduce(t)
	default:
		return nil, sdkerrors.NewInternalError("localrunner: %T is not a runnable awaitable", a)
	}
}

// registerCall installs c in the future table, recursively registering any
// nested awaitables found in its args/kwargs so their own futures exist
// before c can be checked for runnability.
func (r *Runner) registerCall(c *awaitable.Call) (*future.Future, error) {
	r.mu.Lock()
	if _, exists := r.entries[c.ID()]; exists {
		r.mu.Unlock()
		return nil, sdkerrors.NewUsageError("localrunner: future %q is already running or finished", c.ID())
	}
	r.mu.Unlock()

	fn, ok := registry.Get(c.FunctionName)
	if !ok {
		return nil, sdkerrors.NewUsageError("localrunner: function %q is not registered", c.FunctionName)
	}

	args, err := r.resolveArgs(c.Args, fn.InputSerializer)
	if err != nil {
		return nil, err
	}

	kwargs := make(map[string]argSpec, len(c.Kwargs))
	for k, v := range c.Kwargs {
		spec, err := r.resolveOneArg(v, fn.InputSerializer)
		if err != nil {
			return nil, err
		}
		kwargs[k] = spec
	}

	fut := future.New(c.ID())
	fut.SetSchedule(c.StartAt(), c.Delay(), c.IsTailCall())

	e := &entry{fut: fut, call: c, args: args, kwargs: kwargs}
	r.mu.Lock()
	r.entries[c.ID()] = e
	r.mu.Unlock()
	return fut, nil
}

// resolveArgs walks a positional-argument slice, registering any nested
// Call/Reduce it finds and flattening any awaitable.List in place, mirroring
// ast.addArgument's shape but over live futures rather than wire nodes.
func (r *Runner) resolveArgs(vals []any, inputSerializer string) ([]argSpec, error) {
	out := make([]argSpec, len(vals))
	for i, v := range vals {
		spec, err := r.resolveOneArg(v, inputSerializer)
		if err != nil {
			return nil, err
		}
		out[i] = spec
	}
	return out, nil
}

func (r *Runner) resolveOneArg(v any, inputSerializer string) (argSpec, error) {
	switch t := v.(type) {
	case *awaitable.List:
		items := make([]argSpec, len(t.Items))
		for i, item := range t.Items {
			spec, err := r.resolveOneArg(item, inputSerializer)
			if err != nil {
				return argSpec{}, err
			}
			items[i] = spec
		}
		return argSpec{isList: true, items: items}, nil
	case *awaitable.Call:
		if _, err := r.registerCall(t); err != nil {
			return argSpec{}, err
		}
		return argSpec{isRef: true, ref: t.ID()}, nil
	case *awaitable.Reduce:
		if _, err := r.lowerReduce(t); err != nil {
			return argSpec{}, err
		}
		return argSpec{isRef: true, ref: t.ID()}, nil
	default:
		return argSpec{value: v}, nil
	}
}

// controlLoop is the single goroutine that owns entries/blobs: it scans for
// runnable futures, dispatches workers, and drains the result queue. It
// exits once the request has failed and all outstanding runs
// have finished, or once every known future has completed.
func (r *Runner) controlLoop() {
	for {
		r.startRunnable()

		select {
		case c := <-r.resultCh:
			r.processCompletion(c)
		case <-time.After(pollInterval):
		case <-r.stopped:
			return
		}

		if r.requestError() != nil && r.noRunsInFlight() {
			return
		}
		if r.allSettled() {
			return
		}
	}
}

func (r *Runner) noRunsInFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.running {
			return false
		}
	}
	return true
}

func (r *Runner) allSettled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if !e.fut.Done() {
			return false
		}
	}
	return true
}

// startRunnable scans the entries table and dispatches a worker for every
// future that is runnable and not already running.
func (r *Runner) startRunnable() {
	if r.requestError() != nil {
		return // stop dispatching new work once the request has failed
	}

	r.mu.Lock()
	var runnable []*entry
	now := time.Now()
	for _, e := range r.entries {
		if e.scheduled || e.call == nil {
			continue
		}
		if !e.fut.StartTimeElapsed(now) {
			continue
		}
		if r.depsSatisfiedLocked(e) {
			e.scheduled = true
			e.running = true
			runnable = append(runnable, e)
		}
	}
	r.mu.Unlock()

	for _, e := range runnable {
		r.wg.Add(1)
		go r.runEntry(e)
	}
}

// depsSatisfiedLocked reports whether every awaitable argument of e has a
// committed blob. Caller must hold r.mu.
func (r *Runner) depsSatisfiedLocked(e *entry) bool {
	for _, a := range e.args {
		if !r.argSatisfiedLocked(a) {
			return false
		}
	}
	for _, a := range e.kwargs {
		if !r.argSatisfiedLocked(a) {
			return false
		}
	}
	return true
}

func (r *Runner) argSatisfiedLocked(a argSpec) bool {
	if a.isList {
		for _, item := range a.items {
			if !r.argSatisfiedLocked(item) {
				return false
			}
		}
		return true
	}
	if a.isRef {
		_, ok := r.blobs[a.ref]
		return ok
	}
	return true
}
