package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithInternalKeepsOriginal(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrStorageUnavailable.WithInternal(cause)

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrStorageUnavailable.Code, err.Code)
	assert.Contains(t, err.Error(), "disk full")

	// The shared sentinel must stay untouched.
	assert.Nil(t, ErrStorageUnavailable.Internal)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := FromError(ErrNotFound)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)

	wrapped := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternalServer.Code, wrapped.Code)
	assert.Contains(t, wrapped.Error(), "boom")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapTransient(errors.New("io timeout"), "append message")))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(errors.New("plain")))
}
