// Package future implements the handle returned when an awaitable is handed
// to a runner. A Future carries the same id as its awaitable, transitions
// from pending to exactly one of succeeded/failed, and is non-copyable in
// spirit: callers are expected to pass around the *Future pointer, never a
// duplicate.
package future

import (
	"sync"
	"time"

	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// State is the lifecycle state of a Future.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

// NoTimeout blocks Result/Wait until completion with no deadline.
const NoTimeout time.Duration = -1

// WaitMode controls when Wait returns relative to a set of futures.
type WaitMode int

const (
	FirstCompleted WaitMode = iota
	FirstFailure
	AllCompleted
)

// Future is the handle on a computation in flight. The zero value is not
// usable; construct with New.
type Future struct {
	id string

	mu    sync.Mutex
	done  chan struct{}
	state State
	blob  *serializer.Blob
	err   error

	// StartAt/Delay mirror the awaitable's scheduling intent so the local
	// runner can decide when the future becomes runnable.
	startAt  *time.Time
	delay    time.Duration
	tailCall bool
}

// New creates a pending future with the given id.
func New(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the future's id, identical to its originating awaitable's id.
func (f *Future) ID() string { return f.id }

// SetSchedule records the future's start-after time and whether it was
// derived from a tail-call future. Runner
// implementations call this once, before the future is published.
func (f *Future) SetSchedule(startAt *time.Time, delay time.Duration, tailCall bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startAt = startAt
	f.delay = delay
	f.tailCall = tailCall
}

// StartTimeElapsed reports whether the future's start-after timestamp, if
// any, has passed.
func (f *Future) StartTimeElapsed(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startAt == nil {
		return true
	}
	return !now.Before(*f.startAt)
}

// IsTailCall reports whether this future was derived from a returned
// awaitable (a tail call), for derivation-rule propagation.
func (f *Future) IsTailCall() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tailCall
}

// Delay returns the future's configured start delay.
func (f *Future) Delay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delay
}

// Settle transitions the future to its terminal state. It is intended to be
// called exactly once by the runner that owns the future; a second call is
// a no-op to keep runner code defensive against duplicate completions.
func (f *Future) Settle(blob *serializer.Blob, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return // already settled
	default:
	}
	f.blob = blob
	f.err = err
	if err != nil {
		f.state = Failed
	} else {
		f.state = Succeeded
	}
	close(f.done)
}

// Done reports whether the future has reached a terminal state.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Blob returns the raw result blob once the future has succeeded. Runners
// use this to propagate a tail-called future's output without re-decoding
// it.
func (f *Future) Blob() (*serializer.Blob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Succeeded {
		return nil, false
	}
	return f.blob, true
}

// Result blocks until the future completes or timeout elapses, then
// returns the decoded value or re-raises the stored failure.
//
// timeout == NoTimeout blocks indefinitely. timeout == 0 checks once
// without blocking: an incomplete future raises a TimeoutError and is left
// in its prior (pending) state.
func (f *Future) Result(timeout time.Duration) (any, error) {
	if !f.waitDone(timeout) {
		return nil, &sdkerrors.TimeoutError{Message: "future " + f.id + " did not complete in time"}
	}

	f.mu.Lock()
	state, blob, err := f.state, f.blob, f.err
	f.mu.Unlock()

	if state == Failed {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	if blob.ClassHint == "file" {
		return serializer.File{Data: blob.Data, ContentType: blob.ContentType}, nil
	}
	s, serr := serializer.ByName(blob.SerializerName)
	if serr != nil {
		return nil, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: serr}
	}
	v, derr := s.Unmarshal(blob.Data, blob.ClassHint)
	if derr != nil {
		return nil, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: derr}
	}
	return v, nil
}

func (f *Future) waitDone(timeout time.Duration) bool {
	if timeout == NoTimeout {
		<-f.done
		return true
	}
	if timeout <= 0 {
		select {
		case <-f.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

// Wait partitions futures into (done, notDone) according to mode. It never
// blocks longer than timeout (NoTimeout blocks indefinitely; 0 checks once).
// FirstFailure returns as soon as any future in the set has failed,
// otherwise behaves like AllCompleted.
func Wait(futures []*Future, timeout time.Duration, mode WaitMode) (done, notDone []*Future) {
	if len(futures) == 0 {
		return nil, nil
	}

	deadline := time.Time{}
	hasDeadline := timeout != NoTimeout && timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	poll := func() (done, notDone []*Future, satisfied bool) {
		anyFailed := false
		for _, fut := range futures {
			if fut.Done() {
				done = append(done, fut)
				if fut.state == Failed {
					anyFailed = true
				}
			} else {
				notDone = append(notDone, fut)
			}
		}
		switch mode {
		case FirstCompleted:
			satisfied = len(done) > 0
		case FirstFailure:
			satisfied = anyFailed || len(notDone) == 0
		case AllCompleted:
			satisfied = len(notDone) == 0
		}
		return
	}

	for {
		done, notDone, satisfied := poll()
		if satisfied {
			return done, notDone
		}
		if timeout == 0 {
			return done, notDone
		}
		if hasDeadline && time.Now().After(deadline) {
			return done, notDone
		}
		time.Sleep(5 * time.Millisecond)
	}
}
