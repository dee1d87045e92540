package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/serializer"
)

func plusOne(x int) (int, error) { return x + 1, nil }

func TestValueRoundTrip(t *testing.T) {
	n, err := FromValue(42, serializer.JSON)
	require.NoError(t, err)

	v, err := ToValue(n)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestValueRoundTripFile(t *testing.T) {
	f := serializer.File{Data: []byte("hello"), ContentType: "text/plain"}
	n, err := FromValue(f, serializer.JSON)
	require.NoError(t, err)

	v, err := ToValue(n)
	require.NoError(t, err)
	assert.Equal(t, f, v)
}

func TestCallRoundTrip(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("plus_one", plusOne))

	call := awaitable.NewCall("plus_one", []any{5}, map[string]any{"unused": 1})
	n, err := FromAwaitable(call, serializer.JSON)
	require.NoError(t, err)
	assert.Equal(t, KindCall, n.Kind)

	got, err := ToCall(n)
	require.NoError(t, err)
	assert.Equal(t, call.ID(), got.ID())
	assert.Equal(t, "plus_one", got.FunctionName)
	require.Len(t, got.Args, 1)
	assert.EqualValues(t, 5, got.Args[0])
	assert.EqualValues(t, 1, got.Kwargs["unused"])
}

func TestReduceWithSingleInputCollapses(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("plus_one", plusOne))

	reduce, err := awaitable.NewReduce("plus_one", []any{7})
	require.NoError(t, err)

	n, err := FromAwaitable(reduce, serializer.JSON)
	require.NoError(t, err)
	assert.Equal(t, KindValue, n.Kind)

	v, err := ToValue(n)
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)
}

func TestReduceRoundTripMultiInput(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("plus_one", plusOne))

	reduce, err := awaitable.NewReduce("plus_one", []any{1, 2, 3})
	require.NoError(t, err)

	n, err := FromAwaitable(reduce, serializer.JSON)
	require.NoError(t, err)
	assert.Equal(t, KindReduce, n.Kind)
	assert.Len(t, n.ChildOrder(), 3)

	got, err := ToReduce(n)
	require.NoError(t, err)
	assert.Equal(t, reduce.ID(), got.ID())
	assert.Equal(t, "plus_one", got.FunctionName)
	require.Len(t, got.Inputs, 3)
	// Values round-trip through the JSON codec's generic decode path, so
	// integers come back as float64.
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got.Inputs)
}

func TestShallowCopySharesLeafChildrenByReference(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("plus_one", plusOne))

	call := awaitable.NewCall("plus_one", []any{1}, nil)
	n, err := FromAwaitable(call, serializer.JSON)
	require.NoError(t, err)

	clone := ShallowCopy(n)
	require.NotSame(t, n, clone)
	assert.Equal(t, n.ChildOrder(), clone.ChildOrder())
	require.NotEmpty(t, n.Children)

	for id, child := range n.Children {
		cloneChild, ok := clone.Children[id]
		require.True(t, ok)
		assert.Same(t, child, cloneChild)
	}
}

func TestAddChildSetsParentBackPointer(t *testing.T) {
	parent := newNode(KindCall, "parent")
	child := newNode(KindValue, "child")
	parent.AddChild(child)
	assert.Same(t, parent, child.Parent())
}

func TestWalkVisitsChildrenBeforeParent(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("plus_one", plusOne))

	call := awaitable.NewCall("plus_one", []any{1}, nil)
	n, err := FromAwaitable(call, serializer.JSON)
	require.NoError(t, err)

	var order []string
	err = Walk(n, func(node *Node) error {
		order = append(order, node.ID)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, order)
	assert.Equal(t, n.ID, order[len(order)-1])
}
