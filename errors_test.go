package unipro

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsOpAndCPort(t *testing.T) {
	err := NewCPortError("SendAsync", 7, ErrCodeInvalidCPort, EINVAL, "bad cport")
	assert.Contains(t, err.Error(), "op=SendAsync")
	assert.Contains(t, err.Error(), "cport=7")
	assert.Contains(t, err.Error(), "bad cport")
}

func TestErrorFormatsWithoutCPortWhenZero(t *testing.T) {
	err := NewError("TxInit", ErrCodeNoDevice, ENODEV, "no dma device")
	assert.NotContains(t, err.Error(), "cport=")
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := NewError("TxInit", ErrCodeNoDevice, ENODEV, "a")
	b := NewError("Close", ErrCodeNoDevice, ENODEV, "b")
	assert.True(t, errors.Is(a, b))

	c := NewError("TxInit", ErrCodeInvalidCPort, EINVAL, "c")
	assert.False(t, errors.Is(a, c))
}

func TestWrapErrorPreservesStructuredFields(t *testing.T) {
	inner := NewCPortError("Submit", 3, ErrCodeNoSpace, ENOSPC, "inner")
	wrapped := WrapError("SendAsync", ErrCodeIOError, 0, inner)
	require.NotNil(t, wrapped)
	assert.Equal(t, uint32(3), wrapped.CPortID)
	assert.Equal(t, ErrCodeNoSpace, wrapped.Code)
}

func TestWrapErrorPlainError(t *testing.T) {
	inner := fmt.Errorf("boom")
	wrapped := WrapError("Close", ErrCodeIOError, 0, inner)
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeIOError, wrapped.Code)
	assert.ErrorIs(t, wrapped.Unwrap(), inner)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapError("Close", ErrCodeIOError, 0, nil))
}

func TestIsCodeAndIsErrno(t *testing.T) {
	err := NewCPortError("Send", 1, ErrCodeNoSpace, ENOSPC, "full")
	assert.True(t, IsCode(err, ErrCodeNoSpace))
	assert.False(t, IsCode(err, ErrCodeNoMemory))
	assert.True(t, IsErrno(err, ENOSPC))
	assert.False(t, IsErrno(err, EINVAL))
}
