package localrunner

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"reflect"
	"sort"
	"time"

	"github.com/tensorlake/sdk-go/internal/logging"
	"github.com/tensorlake/sdk-go/internal/obs"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"golang.org/x/sync/errgroup"
)

// runEntry drives one function-call entry through its retry budget and
// publishes the outcome on the result queue for the control loop to
// process. It never runs on the control-loop goroutine.
func (r *Runner) runEntry(e *entry) {
	defer r.wg.Done()

	start := time.Now()
	fn, ok := registry.Get(e.call.FunctionName)
	if !ok {
		r.resultCh <- completion{id: e.call.ID(), err: sdkerrors.NewUsageError("localrunner: function %q is not registered", e.call.FunctionName)}
		return
	}
	policy := registry.EffectiveRetries(fn, r.app)
	maxAttempts := policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := r.requestError(); err != nil {
			logging.Op().Debug("abandoning entry on request error", "function", e.call.FunctionName, "future_id", e.call.ID())
			r.resultCh <- completion{id: e.call.ID(), err: &sdkerrors.StopSignal{Cause: err}}
			return
		}

		res, err := r.invoke(e, fn)
		if err == nil {
			r.logResult(e, start, attempt, res, nil)
			r.resultCh <- completion{id: e.call.ID(), res: res}
			return
		}

		// Request errors and cancellation are never retried; surface them as-is.
		if reqErr, ok2 := err.(*sdkerrors.RequestError); ok2 {
			r.logResult(e, start, attempt, nil, reqErr)
			r.resultCh <- completion{id: e.call.ID(), err: reqErr}
			return
		}
		if stop, ok2 := err.(*sdkerrors.StopSignal); ok2 {
			r.logResult(e, start, attempt, nil, stop)
			r.resultCh <- completion{id: e.call.ID(), err: stop}
			return
		}

		lastErr = err
		if attempt < maxAttempts {
			delay := backoff(attempt, policy)
			logging.Op().Warn("retrying function call", "function", e.call.FunctionName, "future_id", e.call.ID(), "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
			time.Sleep(delay)
		}
	}

	funcErr := &sdkerrors.FunctionError{FunctionName: e.call.FunctionName, Attempts: maxAttempts, Cause: lastErr}
	r.logResult(e, start, maxAttempts, nil, funcErr)
	r.resultCh <- completion{id: e.call.ID(), err: funcErr}
}

// logResult emits one request-log entry for e's terminal attempt, adapted
// per-future-run.
func (r *Runner) logResult(e *entry, start time.Time, attempts int, res any, err error) {
	entry := &logging.RequestLog{
		RequestID:  r.ctx.RequestID(),
		Function:   e.call.FunctionName,
		FutureID:   e.call.ID(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		Attempts:   attempts,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if b, merr := json.Marshal(res); merr == nil {
		entry.OutputSize = len(b)
	}
	r.log.Log(entry)
}

// backoff implements the exponential-backoff-with-jitter resolution of the
// otherwise-unused RetryPolicy fields:
// base * DelayMultiplier^(attempt-1), capped at MaxDelayMS, then +/-25%
// jitter. Unset fields default to a 1000ms base, a 30000ms cap, and a
// multiplier of 2.
func backoff(attempt int, policy registry.RetryPolicy) time.Duration {
	base := policy.InitialDelayMS
	if base <= 0 {
		base = 1000
	}
	capMS := policy.MaxDelayMS
	if capMS <= 0 {
		capMS = 30000
	}
	mult := policy.DelayMultiplier
	if mult <= 0 {
		mult = 2
	}

	ms := float64(base) * math.Pow(mult, float64(attempt-1))
	if ms > float64(capMS) {
		ms = float64(capMS)
	}
	jitter := ms * 0.25 * (2*rand.Float64() - 1)
	ms += jitter
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// invoke deserializes e's arguments, resolves the class instance (for a
// method-function), and calls the user callable by reflection, with the
// request context bound to this goroutine for the duration of the call
// and any Go panic converted into a function error rather than
// crashing the worker.
func (r *Runner) invoke(e *entry, fn *registry.FunctionDescriptor) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = sdkerrors.NewInternalError("localrunner: function %q panicked: %v", fn.Name, p)
		}
	}()

	reqcontext.Bind(r.ctx)
	defer reqcontext.Unbind()

	_, end := obs.StartSpan(context.Background(), "localrunner.invoke."+fn.Name)
	defer end()

	// Kwargs have no Go-native calling-convention equivalent: they are
	// appended after positional args in sorted key order, the same
	// deterministic ordering the AST encoder uses for keyword children.
	keys := make([]string, 0, len(e.kwargs))
	for k := range e.kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	specs := make([]argSpec, 0, len(e.args)+len(keys))
	specs = append(specs, e.args...)
	for _, k := range keys {
		specs = append(specs, e.kwargs[k])
	}
	values, rerr := r.resolveValuesParallel(specs)
	if rerr != nil {
		return nil, rerr
	}

	argVals := make([]reflect.Value, 0, len(specs)+1)
	offset := 0
	if fn.ClassName != "" {
		inst, cerr := r.classes.instanceFor(fn.ClassName)
		if cerr != nil {
			return nil, cerr
		}
		rv, cerr := coerceArg(inst, fn.FuncType.In(0))
		if cerr != nil {
			return nil, cerr
		}
		argVals = append(argVals, rv)
		offset = 1
	}

	for i := range e.args {
		rv, cerr := coerceArg(values[i], fn.FuncType.In(offset+i))
		if cerr != nil {
			return nil, &sdkerrors.SerializationError{Serializer: fn.InputSerializer, Cause: cerr}
		}
		argVals = append(argVals, rv)
	}

	for ki := range keys {
		idx := offset + len(e.args) + ki
		if idx >= fn.FuncType.NumIn() {
			break // callee doesn't declare a matching parameter slot
		}
		rv, cerr := coerceArg(values[len(e.args)+ki], fn.FuncType.In(idx))
		if cerr != nil {
			return nil, &sdkerrors.SerializationError{Serializer: fn.InputSerializer, Cause: cerr}
		}
		argVals = append(argVals, rv)
	}

	outs := fn.Callable.Call(argVals)
	if len(outs) == 0 {
		return nil, nil
	}
	if e2, ok := outs[len(outs)-1].Interface().(error); ok && e2 != nil {
		return nil, e2
	}
	return outs[0].Interface(), nil
}

// resolveValuesParallel decodes each of specs concurrently with errgroup,
// since blob decode for independent arguments has no ordering dependency
// on one another.
func (r *Runner) resolveValuesParallel(specs []argSpec) ([]any, error) {
	out := make([]any, len(specs))
	g, _ := errgroup.WithContext(context.Background())
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			v, err := r.resolveValue(spec)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveValue decodes spec into the value the user function actually
// receives: a literal is passed through untouched since the local runner
// can elide type coercion entirely for values it constructed itself; a ref
// is decoded from its producer's committed blob; a list is
// resolved item by item.
func (r *Runner) resolveValue(spec argSpec) (any, error) {
	if spec.isList {
		items := make([]any, len(spec.items))
		for i, it := range spec.items {
			v, err := r.resolveValue(it)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	}
	if spec.isRef {
		r.mu.Lock()
		blob := r.blobs[spec.ref]
		r.mu.Unlock()
		return decodeBlob(blob)
	}
	return spec.value, nil
}

// coerceArg adapts a decoded value to t, the user function's declared
// parameter type. Values that already satisfy t (the common case: the
// runner decoded a blob straight into that Go type) pass straight through;
// numeric widening/narrowing is handled by reflect.Convert; anything else
// falls back to a JSON round trip, the pragmatic bridge for values that
// arrived as a generic map/slice (e.g. a blob decoded without a class
// token) but are destined for a concrete struct parameter.
func coerceArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && isNumericKind(rv.Kind()) && isNumericKind(t.Kind()) {
		return rv.Convert(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t)
	if err := json.Unmarshal(b, out.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
