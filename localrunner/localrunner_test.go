package localrunner

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/future"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/reqcontext"
	"github.com/tensorlake/sdk-go/runtimehooks"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

func increment(x int) (int, error) { return x + 1, nil }
func add(a, b int) (int, error)    { return a + b, nil }

func mapSum(xs []int) (any, error) {
	items := make([]any, len(xs))
	for i, x := range xs {
		items[i] = awaitable.NewCall("increment", []any{x}, nil)
	}
	return awaitable.NewReduce("add", items)
}

func flakyTwice(x int) (int, error) {
	flakyCalls++
	if flakyCalls <= 2 {
		return 0, fmt.Errorf("transient failure")
	}
	return x, nil
}

var flakyCalls int

func alwaysFails(x int) (int, error) {
	return 0, fmt.Errorf("permanent failure")
}

func tailTarget(x int) (int, error) { return x * 2, nil }

func tailEntry(x int) (any, error) {
	return awaitable.NewCall("tail_target", []any{x}, nil), nil
}

var requestErrorCalls int

func alwaysRequestErrors(x int) (int, error) {
	requestErrorCalls++
	return 0, sdkerrors.NewRequestError("bad input")
}

var siblingStarted chan struct{}

func failingSibling() (int, error) {
	close(siblingStarted)
	return 0, fmt.Errorf("sibling failed")
}

func blockedSibling() (int, error) {
	<-siblingStarted
	ops, err := runtimehooks.Current()
	if err != nil {
		return 0, err
	}
	// Poll the cancellation point until the failing sibling's failure has
	// been recorded as the request-wide exception.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, _, err = ops.WaitFutures(nil, future.NoTimeout, future.AllCompleted)
		if err != nil {
			return 0, err
		}
		time.Sleep(time.Millisecond)
	}
	return 0, fmt.Errorf("request error was never observed")
}

func concat2(a, b string) (string, error) { return a + b, nil }

func newTestRunner(t *testing.T, app *registry.ApplicationDescriptor) *Runner {
	t.Helper()
	ctx := reqcontext.NewBasic(uuid.NewString(), nil)
	return New(app, ctx)
}

func TestMapSumEndToEnd(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("increment", increment))
	require.NoError(t, registry.RegisterFunction("add", add))
	require.NoError(t, registry.RegisterApplication("map_sum", mapSum))

	app, ok := registry.GetApplication("map_sum")
	require.True(t, ok)

	runner := newTestRunner(t, app)
	root := awaitable.NewCall("map_sum", []any{[]int{1, 2, 3}}, nil)

	result, err := runner.Run(root)
	require.NoError(t, err)
	// increment(1)+increment(2)+increment(3) = 2+3+4 = 9
	assert.EqualValues(t, 9, result)
}

func TestRetryRecoversAfterTwoFailuresOnThirdAttempt(t *testing.T) {
	registry.Clear()
	flakyCalls = 0
	require.NoError(t, registry.RegisterFunction("flaky", flakyTwice, registry.WithRetries(registry.RetryPolicy{
		MaxRetries:     2,
		InitialDelayMS: 1,
		MaxDelayMS:     5,
	})))
	require.NoError(t, registry.RegisterApplication("flaky_app", flakyTwice))

	app, _ := registry.GetApplication("flaky_app")
	runner := newTestRunner(t, app)

	result, err := runner.Run(awaitable.NewCall("flaky", []any{7}, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 7, result)
	assert.Equal(t, 3, flakyCalls)
}

func TestTailCallInheritsCallersOutputSerializer(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("tail_target", tailTarget, registry.WithOutputSerializer(serializer.JSON)))
	require.NoError(t, registry.RegisterApplication("tail_entry_app", tailEntry, registry.WithOutputSerializer(serializer.Binary)))

	app, _ := registry.GetApplication("tail_entry_app")
	runner := newTestRunner(t, app)

	root := awaitable.NewCall("tail_entry_app", []any{5}, nil)
	result, err := runner.Run(root)
	require.NoError(t, err)
	assert.EqualValues(t, 10, result)

	runner.mu.Lock()
	blob := runner.blobs[root.ID()]
	runner.mu.Unlock()
	require.NotNil(t, blob)
	// The tail-called child's own registered output serializer is json;
	// the root's effective serializer (binary) wins via inheritance.
	assert.Equal(t, serializer.Binary, blob.SerializerName)
}

func TestRequestErrorFailsFastWithoutRetry(t *testing.T) {
	registry.Clear()
	requestErrorCalls = 0
	require.NoError(t, registry.RegisterFunction("bad_request", alwaysRequestErrors, registry.WithRetries(registry.RetryPolicy{
		MaxRetries:     3,
		InitialDelayMS: 1,
		MaxDelayMS:     5,
	})))
	require.NoError(t, registry.RegisterApplication("bad_request_app", alwaysRequestErrors))

	app, _ := registry.GetApplication("bad_request_app")
	runner := newTestRunner(t, app)

	_, err := runner.Run(awaitable.NewCall("bad_request", []any{1}, nil))
	require.Error(t, err)
	var reqErr *sdkerrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 1, requestErrorCalls)
}

func TestCancellationPropagatesToInFlightSibling(t *testing.T) {
	registry.Clear()
	siblingStarted = make(chan struct{})
	require.NoError(t, registry.RegisterFunction("failing_sibling", failingSibling))
	require.NoError(t, registry.RegisterFunction("blocked_sibling", blockedSibling))
	require.NoError(t, registry.RegisterApplication("noop_app2", increment))

	app, _ := registry.GetApplication("noop_app2")
	runner := newTestRunner(t, app)

	require.NoError(t, runtimehooks.Bind(runner))
	defer runtimehooks.Unbind()
	go runner.controlLoop()
	defer close(runner.stopped)

	failFut, err := runner.Submit(awaitable.NewCall("failing_sibling", nil, nil))
	require.NoError(t, err)
	blockedFut, err := runner.Submit(awaitable.NewCall("blocked_sibling", nil, nil))
	require.NoError(t, err)

	_, ferr := failFut.Result(future.NoTimeout)
	require.Error(t, ferr)

	_, berr := blockedFut.Result(future.NoTimeout)
	require.Error(t, berr)
	var stop *sdkerrors.StopSignal
	assert.ErrorAs(t, berr, &stop)
}

func TestReduceLoweringProducesNMinusOneInternalCalls(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("concat2", concat2))
	require.NoError(t, registry.RegisterApplication("concat_app", concat2))

	app, _ := registry.GetApplication("concat_app")
	runner := newTestRunner(t, app)

	red, err := awaitable.NewReduce("concat2", []any{"a", "b", "c", "d"})
	require.NoError(t, err)

	_, err = runner.lowerReduce(red)
	require.NoError(t, err)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	// n=4 inputs lower to n-1=3 registered calls: two internal (fresh ids)
	// plus the reducer's own id, which is the only one externally visible.
	assert.Len(t, runner.entries, 3)

	reducerEntry, ok := runner.entries[red.ID()]
	require.True(t, ok)
	require.NotNil(t, reducerEntry.call)
	assert.Equal(t, red.ID(), reducerEntry.call.ID())

	for id := range runner.entries {
		if id == red.ID() {
			continue
		}
		assert.NotEqual(t, red.ID(), id)
	}
}

func TestExhaustedRetriesSurfacesFunctionError(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("always_fails", alwaysFails, registry.WithRetries(registry.RetryPolicy{
		MaxRetries:     1,
		InitialDelayMS: 1,
		MaxDelayMS:     5,
	})))
	require.NoError(t, registry.RegisterApplication("always_fails_app", alwaysFails))

	app, _ := registry.GetApplication("always_fails_app")
	runner := newTestRunner(t, app)

	_, err := runner.Run(awaitable.NewCall("always_fails", []any{1}, nil))
	require.Error(t, err)
}

func TestUnregisteredFunctionIsUsageError(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterApplication("noop_app", increment))

	app, _ := registry.GetApplication("noop_app")
	runner := newTestRunner(t, app)

	_, err := runner.Run(awaitable.NewCall("does_not_exist", []any{1}, nil))
	require.Error(t, err)
}
