package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func increment(x int) (int, error) { return x + 1, nil }

func TestRegisterAndGetFunction(t *testing.T) {
	Clear()
	require.NoError(t, RegisterFunction("increment", increment))

	d, ok := Get("increment")
	require.True(t, ok)
	assert.Equal(t, "increment", d.Name)
	assert.Equal(t, "json", d.InputSerializer)
}

func TestRegisterFunctionIsIdempotentFromSameFile(t *testing.T) {
	Clear()
	require.NoError(t, RegisterFunction("increment", increment))
	require.NoError(t, RegisterFunction("increment", increment))
}

func TestRegisterApplicationAlsoRegistersAsFunction(t *testing.T) {
	Clear()
	require.NoError(t, RegisterApplication("app", increment))

	_, ok := Get("app")
	assert.True(t, ok)
	app, ok := GetApplication("app")
	require.True(t, ok)
	assert.NotEmpty(t, app.Version)
}

func TestRegisterFunctionRejectsNonFunc(t *testing.T) {
	Clear()
	err := RegisterFunction("not-a-func", 42)
	assert.Error(t, err)
}

func TestEffectiveRetriesFallsBackToApplication(t *testing.T) {
	fn := &FunctionDescriptor{Retries: RetryPolicy{}}
	app := &ApplicationDescriptor{FunctionDescriptor: FunctionDescriptor{Retries: RetryPolicy{MaxRetries: 3}}}

	got := EffectiveRetries(fn, app)
	assert.Equal(t, 3, got.MaxRetries)
}

func TestEffectiveRetriesPrefersOwn(t *testing.T) {
	fn := &FunctionDescriptor{Retries: RetryPolicy{MaxRetries: 5}}
	app := &ApplicationDescriptor{FunctionDescriptor: FunctionDescriptor{Retries: RetryPolicy{MaxRetries: 3}}}

	got := EffectiveRetries(fn, app)
	assert.Equal(t, 5, got.MaxRetries)
}

func TestClassRegistration(t *testing.T) {
	Clear()
	require.NoError(t, RegisterClass("Counter", func() (any, error) { return 0, nil }))

	_, ok := GetClass("Counter")
	assert.True(t, ok)
	assert.Len(t, AllClasses(), 1)
}
