// Package localrunner is the in-process scheduler: it drives a root
// function-call awaitable to completion by maintaining a blob store, a
// future table, and a pool of worker goroutines, resolving dependencies as
// futures settle. Function calls run concurrently on worker goroutines;
// for any pure computation the result equals that of a single-threaded
// depth-first evaluation.
package localrunner

import (
	"sync"
	"time"

	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/internal/logging"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/runtimehooks"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// entry is the future table's record for one submitted awaitable: the
// public future, the scheduling state the control loop needs, and enough
// of the originating awaitable to decide runnability and to execute it.
type entry struct {
	fut *future.Future

	// call is set when this entry backs a function-call awaitable (either
	// a user Call, or one link of a reducer's lowered chain). nil for an
	// entry that was pre-resolved directly from a literal value.
	call   *awaitable.Call
	args   []argSpec
	kwargs map[string]argSpec

	scheduled bool
	running   bool

	// outputConsumer is the id of a downstream entry whose result equals
	// this entry's result once it settles — set when this entry is itself
	// a tail-call future.
	outputConsumer string
}

// argSpec is how one Call argument was resolved at registration time: a
// literal value, a reference to another entry's future (by id), or an
// ordered list mixing the two (a gathered awaitable.List).
type argSpec struct {
	isRef  bool
	isList bool
	ref    string
	value  any
	items  []argSpec
}

// Runner is a single-use local scheduler: construct one per request.
type Runner struct {
	app *registry.ApplicationDescriptor

	mu      sync.Mutex
	blobs   map[string]*serializer.Blob
	entries map[string]*entry

	resultCh chan completion
	wg       sync.WaitGroup

	reqErrMu sync.Mutex
	reqErr   error

	classes classCache

	ctx      reqcontext.Context
	stopOnce sync.Once
	stopped  chan struct{}

	log *logging.Logger
}

type completion struct {
	id  string
	res any
	err error
}

// New builds a Runner for one invocation of app, using ctx as the
// per-request context bound to each worker goroutine.
func New(app *registry.ApplicationDescriptor, ctx reqcontext.Context) *Runner {
	return &Runner{
		app:      app,
		blobs:    map[string]*serializer.Blob{},
		entries:  map[string]*entry{},
		resultCh: make(chan completion, 64),
		classes:  newClassCache(),
		ctx:      ctx,
		stopped:  make(chan struct{}),
		log:      logging.Default(),
	}
}

// Run activates the runner, submits root, drives the control loop until
// root's future settles (or the request fails), and returns root's decoded
// result.
func (r *Runner) Run(root *awaitable.Call) (any, error) {
	if err := runtimehooks.Bind(r); err != nil {
		return nil, err
	}
	defer runtimehooks.Unbind()

	go r.controlLoop()
	defer func() {
		close(r.stopped)
		r.wg.Wait()
	}()

	fut, err := r.Submit(root)
	if err != nil {
		return nil, err
	}
	// A failure elsewhere in the graph (a dependency, or the target of a
	// tail call) leaves root unsettled, so the request error is checked too.
	for !fut.Done() {
		if reqErr := r.requestError(); reqErr != nil && !fut.Done() {
			return nil, reqErr
		}
		_, _ = fut.Result(pollInterval)
	}
	return fut.Result(future.NoTimeout)
}

// Submit registers root (a user application/function call) and returns its
// future. Exposed separately from Run so tests can submit several roots
// against one runner instance.
func (r *Runner) Submit(root *awaitable.Call) (*future.Future, error) {
	futs, err := r.StartFunctionCalls([]runtimehooks.Awaitable{root})
	if err != nil {
		return nil, err
	}
	return futs[0], nil
}

// setRequestError records the first failure as the request-wide exception
// slot: once set, no further future becomes runnable.
func (r *Runner) setRequestError(err error) {
	r.reqErrMu.Lock()
	defer r.reqErrMu.Unlock()
	if r.reqErr == nil {
		r.reqErr = err
	}
}

func (r *Runner) requestError() error {
	r.reqErrMu.Lock()
	defer r.reqErrMu.Unlock()
	return r.reqErr
}

// WaitFutures implements runtimehooks.RunnerOps: a cancellation point
// around future.Wait.
func (r *Runner) WaitFutures(futs []*future.Future, timeout time.Duration, mode future.WaitMode) ([]*future.Future, []*future.Future, error) {
	if err := r.requestError(); err != nil {
		return nil, nil, &sdkerrors.StopSignal{Cause: err}
	}
	done, notDone := future.Wait(futs, timeout, mode)
	return done, notDone, nil
}

// StartAndWaitFunctionCalls implements runtimehooks.RunnerOps.
func (r *Runner) StartAndWaitFunctionCalls(calls []runtimehooks.Awaitable) ([]*future.Future, error) {
	futs, err := r.StartFunctionCalls(calls)
	if err != nil {
		return nil, err
	}
	_, _, err = r.WaitFutures(futs, future.NoTimeout, future.AllCompleted)
	return futs, err
}

