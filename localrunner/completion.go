package localrunner

import (
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// processCompletion handles one worker's outcome for future c.id. It
// always runs on the control-loop goroutine, so it is free to
// mutate entries/blobs without additional locking beyond what concurrent
// StartFunctionCalls callers (the user's own goroutine, via runtimehooks)
// also take.
func (r *Runner) processCompletion(c completion) {
	r.mu.Lock()
	e, ok := r.entries[c.id]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.running = false

	if c.err != nil {
		r.failEntry(e, c.err)
		return
	}

	switch v := c.res.(type) {
	case *awaitable.List:
		r.failEntry(e, sdkerrors.NewUsageError("function %q returned an AwaitableList; a function may only return a value, a Call, or a Reduce", e.call.FunctionName))
	case *awaitable.Call, *awaitable.Reduce:
		r.tailCall(e, v)
	default:
		r.settleValue(e, v)
	}
}

// failEntry settles e's future with err and, unless err is itself a
// cancellation (already a consequence of some other failure), records it as
// the request-wide exception. Request errors are recorded too; only the
// first recorded failure is kept.
func (r *Runner) failEntry(e *entry, err error) {
	e.fut.Settle(nil, err)
	if _, isStop := err.(*sdkerrors.StopSignal); !isStop {
		r.setRequestError(err)
	}
}

// settleValue encodes v with e's effective output serializer, commits the
// blob, settles e's future, and propagates the result along any
// output-consumer chain waiting on e.
func (r *Runner) settleValue(e *entry, v any) {
	outSer := r.effectiveOutputSerializer(e)
	blob, err := r.encodeOutput(v, outSer)
	if err != nil {
		r.failEntry(e, err)
		return
	}
	r.mu.Lock()
	r.blobs[e.call.ID()] = blob
	r.mu.Unlock()
	e.fut.Settle(blob, nil)
	r.propagate(e.call.ID())
}

// tailCall implements the "function returned an awaitable" branch:
// register the returned subtree as its own future (inheriting
// e's effective output serializer), wire its completion to fulfill e's id,
// and propagate
// immediately if it has already settled.
func (r *Runner) tailCall(e *entry, inner any) {
	outSer := r.effectiveOutputSerializer(e)

	var childID string
	var err error
	switch t := inner.(type) {
	case *awaitable.Call:
		clone := awaitable.NewCallWithID(awaitable.NewID(), t.FunctionName, t.Args, t.Kwargs).WithOutputSerializerOverride(outSer)
		_, err = r.registerCall(clone)
		childID = clone.ID()
	case *awaitable.Reduce:
		retargeted := awaitable.NewReduceWithID(awaitable.NewID(), t.FunctionName, t.Inputs).WithOutputSerializerOverride(outSer)
		_, err = r.lowerReduce(retargeted)
		childID = retargeted.ID()
	default:
		err = sdkerrors.NewInternalError("localrunner: tailCall called with unsupported type %T", inner)
	}
	if err != nil {
		r.failEntry(e, err)
		return
	}

	r.mu.Lock()
	child := r.entries[childID]
	child.outputConsumer = e.call.ID()
	alreadyDone := child.fut.Done()
	r.mu.Unlock()

	if alreadyDone {
		r.propagate(childID)
	}
}

// propagate walks the output-consumer chain starting at id: whatever blob
// id just committed is cloned under each downstream consumer's id in turn,
// settling that consumer's future, until a link with no consumer is
// reached (SUPPLEMENTED FEATURES: mirrors the original's
// _propagate_future_output_to_consumers loop).
func (r *Runner) propagate(id string) {
	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			r.mu.Unlock()
			return
		}
		consumer := e.outputConsumer
		blob := r.blobs[id]
		r.mu.Unlock()

		if consumer == "" || blob == nil {
			return
		}

		r.mu.Lock()
		r.blobs[consumer] = blob
		consumerEntry := r.entries[consumer]
		r.mu.Unlock()
		if consumerEntry == nil {
			return
		}
		consumerEntry.fut.Settle(blob, nil)
		id = consumer
	}
}

func (r *Runner) effectiveOutputSerializer(e *entry) string {
	if e.call != nil && e.call.OutputSerializerOverride != "" {
		return e.call.OutputSerializerOverride
	}
	if fn, ok := registry.Get(e.call.FunctionName); ok {
		return fn.OutputSerializer
	}
	return serializer.JSON
}

func (r *Runner) encodeOutput(value any, serializerName string) (*serializer.Blob, error) {
	if f, ok := value.(serializer.File); ok {
		return &serializer.Blob{Data: f.Data, ContentType: f.ContentType, ClassHint: "file"}, nil
	}
	if serializerName == "" {
		serializerName = serializer.JSON
	}
	s, err := serializer.ByName(serializerName)
	if err != nil {
		return nil, err
	}
	data, err := s.Marshal(value)
	if err != nil {
		return nil, &sdkerrors.SerializationError{Serializer: serializerName, Cause: err}
	}
	return &serializer.Blob{Data: data, SerializerName: serializerName, ClassHint: serializer.ClassTokenOf(value)}, nil
}

func decodeBlob(blob *serializer.Blob) (any, error) {
	if blob == nil {
		return nil, sdkerrors.NewInternalError("localrunner: decodeBlob called with a nil blob")
	}
	if blob.ClassHint == "file" {
		return serializer.File{Data: blob.Data, ContentType: blob.ContentType}, nil
	}
	s, err := serializer.ByName(blob.SerializerName)
	if err != nil {
		return nil, err
	}
	v, err := s.Unmarshal(blob.Data, blob.ClassHint)
	if err != nil {
		return nil, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: err}
	}
	return v, nil
}
