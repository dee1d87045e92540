package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/registry"
)

func goodFn(x int) (int, error) { return x, nil }

func badReturnShape(x int) int { return x }

func awaitableReturn(x int) (*awaitable.Reduce, error) { return nil, nil }

type unschemaable struct {
	F func()
}

func badParam(u unschemaable) (int, error) { return 0, nil }

func TestValidatePassesWellFormedFunction(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("good", goodFn))

	report := Validate()
	assert.True(t, report.OK())
}

func TestValidateFlagsBadReturnShape(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("bad", badReturnShape))

	report := Validate()
	assert.False(t, report.OK())
	assert.NotEmpty(t, report.Errors())
}

func TestValidateFlagsMethodWithoutClass(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("method", goodFn, registry.WithClassName("Missing")))

	report := Validate()
	assert.False(t, report.OK())
}

func TestValidateFlagsAwaitableApplicationReturn(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterApplication("bad_app", awaitableReturn))

	report := Validate()
	assert.False(t, report.OK())
}

func TestValidateFlagsUnschemaableParameter(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterApplication("bad_param_app", badParam))

	report := Validate()
	assert.False(t, report.OK())
}

func TestBuildManifestForWellFormedApplication(t *testing.T) {
	registry.Clear()
	require.NoError(t, registry.RegisterFunction("good", goodFn))
	require.NoError(t, registry.RegisterApplication("good_app", goodFn))

	app, ok := registry.GetApplication("good_app")
	require.True(t, ok)

	m, issues := BuildManifest(app)
	require.Empty(t, issues)
	require.NotNil(t, m)
	assert.Equal(t, "good_app", m.Name)
}
