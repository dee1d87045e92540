package reqcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentFailsWhenUnbound(t *testing.T) {
	Unbind()
	_, err := Current()
	assert.Error(t, err)
}

func TestBindThenCurrentReturnsBoundContext(t *testing.T) {
	ctx := NewBasic("req-1", nil)
	Bind(ctx)
	defer Unbind()

	got, err := Current()
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID())
}

func TestUnbindRemovesAssociation(t *testing.T) {
	Bind(NewBasic("req-2", nil))
	Unbind()

	_, err := Current()
	assert.Error(t, err)
}

func TestBasicProgressDefaultsToDropped(t *testing.T) {
	ctx := NewBasic("req-3", nil)
	assert.NoError(t, ctx.Progress().Update(1, 2, "halfway", nil))
}

func TestMemoryStateGetSetRoundTrip(t *testing.T) {
	s := NewMemoryState()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("count", 42))
	v, ok, err := s.Get("count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, v)
}

func TestMemoryStateOverwritesExistingKey(t *testing.T) {
	s := NewMemoryState()
	require.NoError(t, s.Set("k", "first"))
	require.NoError(t, s.Set("k", "second"))

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", v)
}
