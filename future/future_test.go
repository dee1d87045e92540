package future

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/serializer"
)

func TestResultSucceeded(t *testing.T) {
	f := New("f1")
	codec, err := serializer.ByName(serializer.JSON)
	require.NoError(t, err)
	data, err := codec.Marshal(42)
	require.NoError(t, err)

	f.Settle(&serializer.Blob{Data: data, SerializerName: serializer.JSON}, nil)

	v, err := f.Result(NoTimeout)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestResultFailed(t *testing.T) {
	f := New("f2")
	f.Settle(nil, assertErr{"boom"})

	_, err := f.Result(NoTimeout)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestResultTimeout(t *testing.T) {
	f := New("f3")
	_, err := f.Result(10 * time.Millisecond)
	require.Error(t, err)
}

func TestSettleIsIdempotent(t *testing.T) {
	f := New("f4")
	codec, err := serializer.ByName(serializer.JSON)
	require.NoError(t, err)
	data, err := codec.Marshal(1)
	require.NoError(t, err)
	f.Settle(&serializer.Blob{Data: data, SerializerName: serializer.JSON}, nil)
	f.Settle(nil, assertErr{"ignored"})

	v, err := f.Result(NoTimeout)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestWaitAllCompleted(t *testing.T) {
	a, b := New("a"), New("b")
	go func() {
		time.Sleep(5 * time.Millisecond)
		a.Settle(nil, nil)
		b.Settle(nil, nil)
	}()

	done, notDone := Wait([]*Future{a, b}, NoTimeout, AllCompleted)
	assert.Len(t, done, 2)
	assert.Empty(t, notDone)
}

func TestWaitFirstCompleted(t *testing.T) {
	a, b := New("a"), New("b")
	go a.Settle(nil, nil)

	done, notDone := Wait([]*Future{a, b}, NoTimeout, FirstCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "a", done[0].ID())
	assert.Len(t, notDone, 1)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
