package sdkerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestErrorMessage(t *testing.T) {
	e := NewRequestError("bad input")
	assert.Equal(t, "bad input", e.Error())
}

func TestFunctionErrorWrapsCauseAndFormats(t *testing.T) {
	cause := errors.New("boom")
	e := &FunctionError{FunctionName: "fn", Attempts: 3, Cause: cause}
	assert.Contains(t, e.Error(), "fn")
	assert.Contains(t, e.Error(), "3 attempt")
	assert.ErrorIs(t, e, cause)
}

func TestUsageErrorFormatsArgs(t *testing.T) {
	e := NewUsageError("bad call to %s", "fn")
	assert.Equal(t, "sdk usage error: bad call to fn", e.Error())
}

func TestSerializationErrorWrapsCause(t *testing.T) {
	cause := errors.New("malformed")
	e := &SerializationError{Serializer: "cbor", Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "cbor")
}

func TestRemoteAPIErrorRetryable(t *testing.T) {
	assert.True(t, (&RemoteAPIError{Status: 502}).Retryable())
	assert.True(t, (&RemoteAPIError{Status: 503}).Retryable())
	assert.False(t, (&RemoteAPIError{Status: 400}).Retryable())
	assert.False(t, (&RemoteAPIError{Status: 401}).Retryable())
}

func TestTimeoutErrorDefaultsMessage(t *testing.T) {
	assert.Equal(t, "timed out", (&TimeoutError{}).Error())
	assert.Equal(t, "deadline exceeded", (&TimeoutError{Message: "deadline exceeded"}).Error())
}

func TestStopSignalWrapsCause(t *testing.T) {
	cause := errors.New("other future failed")
	e := &StopSignal{Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "request cancelled")
}

func TestInternalErrorFormatsArgs(t *testing.T) {
	e := NewInternalError("invariant broken: %d", 7)
	assert.Equal(t, "internal error: invariant broken: 7", e.Error())
}
