package runtimehooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/future"
)

type stubOps struct{}

func (stubOps) StartFunctionCalls(calls []Awaitable) ([]*future.Future, error) {
	return nil, nil
}

func (stubOps) StartAndWaitFunctionCalls(calls []Awaitable) ([]*future.Future, error) {
	return nil, nil
}

func (stubOps) WaitFutures(futures []*future.Future, timeout time.Duration, mode future.WaitMode) (done, notDone []*future.Future, err error) {
	return nil, nil, nil
}

func TestCurrentFailsWhenUnbound(t *testing.T) {
	Unbind()
	_, err := Current()
	assert.Error(t, err)
}

func TestBindThenCurrentReturnsBoundOps(t *testing.T) {
	Unbind()
	require.NoError(t, Bind(stubOps{}))
	defer Unbind()

	ops, err := Current()
	require.NoError(t, err)
	assert.Equal(t, stubOps{}, ops)
}

func TestBindFailsWhenAlreadyBound(t *testing.T) {
	Unbind()
	require.NoError(t, Bind(stubOps{}))
	defer Unbind()

	err := Bind(stubOps{})
	assert.Error(t, err)
}

func TestUnbindAllowsRebinding(t *testing.T) {
	Unbind()
	require.NoError(t, Bind(stubOps{}))
	Unbind()
	assert.NoError(t, Bind(stubOps{}))
	Unbind()
}
