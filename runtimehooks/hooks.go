// Package runtimehooks is the indirection layer between the user-facing
// SDK surface (awaitable.Run, RunLater and Await) and whichever runner is
// currently driving the request. The hook slots are a single bindable
// RunnerOps value, so user code that submits awaitables never names a
// runner. localrunner.Runner implements RunnerOps; remoterunner does not.
// future.Wait is a plain function and does not go through a hook.
package runtimehooks

import (
	"sync/atomic"
	"time"

	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/sdkerrors"
)

// Awaitable is the minimal shape a runner needs from a submitted node. It is
// satisfied structurally by awaitable.Call and awaitable.Reduce without
// either package importing the other.
type Awaitable interface {
	ID() string
}

// RunnerOps is implemented by the local runner (localrunner.Runner) and bound for
// the duration of one runner activation (one request).
type RunnerOps interface {
	// StartFunctionCalls hands each awaitable to the runner and returns its
	// future, in input order.
	StartFunctionCalls(calls []Awaitable) ([]*future.Future, error)

	// StartAndWaitFunctionCalls starts each awaitable and blocks until all
	// of them have settled, returning their futures in input order.
	StartAndWaitFunctionCalls(calls []Awaitable) ([]*future.Future, error)

	// WaitFutures is a cancellation point around future.Wait: if the
	// request has already failed, it raises the stop signal instead of
	// blocking.
	WaitFutures(futures []*future.Future, timeout time.Duration, mode future.WaitMode) (done, notDone []*future.Future, err error)
}

var current atomic.Pointer[RunnerOps]

// Bind activates ops as the current runner. It fails if a runner is already
// bound — hooks are settable exactly once per activation; call Unbind first.
func Bind(ops RunnerOps) error {
	if current.Load() != nil {
		return sdkerrors.NewInternalError("runtimehooks: a runner is already bound")
	}
	current.Store(&ops)
	return nil
}

// Unbind deactivates the current runner, if any.
func Unbind() {
	current.Store(nil)
}

// Current returns the bound runner, or a UsageError if none is bound
// ("awaitable.Run fails if no runner is bound").
func Current() (RunnerOps, error) {
	p := current.Load()
	if p == nil {
		return nil, sdkerrors.NewUsageError("no runner is bound to the current process; run the request through a runner (such as localrunner.Runner.Run) first")
	}
	return *p, nil
}
