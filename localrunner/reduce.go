package localrunner

import (
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/registry"
)

// lowerReduce expands a reducer awaitable into a left-associated chain of
// binary function calls. A single-input reduce short-circuits:
// its result is that input's result, with no intermediate call at all. For
// n >= 2 inputs, every intermediate call inherits the reducer's start delay
// and output-serializer override, and the last call's id is rewritten to the
// reducer's own id so external observers see the reducer's promised id
// resolve.
func (r *Runner) lowerReduce(red *awaitable.Reduce) (*future.Future, error) {
	if len(red.Inputs) == 1 {
		return r.collapseSingleInputReduce(red)
	}

	acc := red.Inputs[0]
	for i := 1; i < len(red.Inputs)-1; i++ {
		call := awaitable.NewCall(red.FunctionName, []any{acc, red.Inputs[i]}, nil)
		call.DeriveReduceSchedule(red)
		acc = call
	}

	last := awaitable.NewCallWithID(red.ID(), red.FunctionName, []any{acc, red.Inputs[len(red.Inputs)-1]}, nil)
	last.DeriveReduceSchedule(red)
	return r.registerCall(last)
}

// collapseSingleInputReduce implements the degenerate reduce: a
// single-input reduce collapses to the identity of that input. If the
// lone input is itself an awaitable, it is re-submitted
// under the reducer's own id so the reducer's future id still resolves. If
// it is a plain value, the reducer's future is settled immediately with
// that value, still routed through the encoding boundary so local and
// remote behavior agree.
func (r *Runner) collapseSingleInputReduce(red *awaitable.Reduce) (*future.Future, error) {
	switch t := red.Inputs[0].(type) {
	case *awaitable.Call:
		clone := awaitable.NewCallWithID(red.ID(), t.FunctionName, t.Args, t.Kwargs)
		if t.OutputSerializerOverride != "" {
			clone = clone.WithOutputSerializerOverride(t.OutputSerializerOverride)
		}
		return r.registerCall(clone)
	case *awaitable.Reduce:
		retargeted := awaitable.NewReduceWithID(red.ID(), t.FunctionName, t.Inputs)
		return r.lowerReduce(retargeted)
	default:
		serializerName := red.OutputSerializerOverride
		if serializerName == "" {
			if fn, ok := registry.Get(red.FunctionName); ok {
				serializerName = fn.OutputSerializer
			}
		}
		return r.settleLiteral(red.ID(), t, serializerName)
	}
}

// settleLiteral creates a pre-resolved future for id, encoding value with
// serializerName: the reducer's output-serializer override if it has one,
// else the reducer's own function's output serializer (JSON when that is
// empty, e.g. the function is not registered).
func (r *Runner) settleLiteral(id string, value any, serializerName string) (*future.Future, error) {
	fut := future.New(id)
	blob, err := r.encodeOutput(value, serializerName)
	if err != nil {
		fut.Settle(nil, err)
		return fut, err
	}
	r.mu.Lock()
	r.blobs[id] = blob
	r.entries[id] = &entry{fut: fut}
	r.mu.Unlock()
	fut.Settle(blob, nil)
	return fut, nil
}
