package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := ByName(JSON)
	require.NoError(t, err)

	data, err := s.Marshal(map[string]any{"x": 1.0})
	require.NoError(t, err)

	v, err := s.Unmarshal(data, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0}, v)
}

func TestBinaryRoundTripWithClassToken(t *testing.T) {
	RegisterClassToken("serializer.point", point{})

	s, err := ByName(Binary)
	require.NoError(t, err)

	data, err := s.Marshal(point{X: 1, Y: 2})
	require.NoError(t, err)

	v, err := s.Unmarshal(data, "serializer.point")
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2}, v)
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName("xml")
	assert.Error(t, err)
}

func TestClassTokenOf(t *testing.T) {
	assert.Equal(t, "nil", ClassTokenOf(nil))
	assert.Contains(t, ClassTokenOf(point{}), "point")
}
