package awaitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/future"
)

func TestNewCallDefaultsKwargs(t *testing.T) {
	c := NewCall("fn", []any{1, 2}, nil)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, KindCall, c.Kind())
	assert.NotNil(t, c.Kwargs)
	assert.Equal(t, []any{1, 2}, c.Args)
}

func TestNewCallWithIDPreservesID(t *testing.T) {
	c := NewCallWithID("fixed-id", "fn", nil, nil)
	assert.Equal(t, "fixed-id", c.ID())
}

func TestWithOutputSerializerOverrideClones(t *testing.T) {
	c := NewCall("fn", nil, nil)
	clone := c.WithOutputSerializerOverride("cbor")
	assert.Equal(t, "", c.OutputSerializerOverride)
	assert.Equal(t, "cbor", clone.OutputSerializerOverride)
	assert.Equal(t, c.ID(), clone.ID())
}

func TestDeriveFromCopiesDelayAndTailCall(t *testing.T) {
	c := NewCall("fn", nil, nil)
	fut := future.New("parent")
	fut.SetSchedule(nil, 5*time.Second, true)

	c.DeriveFrom(fut)
	assert.Equal(t, 5*time.Second, c.Delay())
	assert.True(t, c.IsTailCall())
}

func TestDeriveFromNilSourceIsNoop(t *testing.T) {
	c := NewCall("fn", nil, nil)
	c.DeriveFrom(nil)
	assert.Equal(t, time.Duration(0), c.Delay())
}

func TestNewReduceRequiresInputs(t *testing.T) {
	_, err := NewReduce("fn", nil)
	assert.Error(t, err)
}

func TestNewReduceBuildsWithInputs(t *testing.T) {
	r, err := NewReduce("fn", []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, KindReduce, r.Kind())
	assert.Len(t, r.Inputs, 3)
}

func TestDeriveReduceScheduleCopiesOntoCall(t *testing.T) {
	r, err := NewReduce("fn", []any{1})
	require.NoError(t, err)
	r.delay = 3 * time.Second
	r.OutputSerializerOverride = "cbor"

	c := NewCall("fn", nil, nil)
	c.DeriveReduceSchedule(r)
	assert.Equal(t, 3*time.Second, c.Delay())
	assert.Equal(t, "cbor", c.OutputSerializerOverride)
}

func TestNewListGathersItems(t *testing.T) {
	l := NewList(1, "two", NewCall("fn", nil, nil))
	assert.Equal(t, KindList, l.Kind())
	assert.Len(t, l.Items, 3)
}

func TestRunWithoutBoundRunnerFails(t *testing.T) {
	c := NewCall("fn", nil, nil)
	_, err := c.Run()
	assert.Error(t, err)
}
