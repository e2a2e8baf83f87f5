package mediagraph

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("CREATE_LINK", CodeInvalidArgument, "invalid port format")

	require.Equal(t, "CREATE_LINK", err.Op)
	require.Equal(t, CodeInvalidArgument, err.Code)
	require.Equal(t, "mediagraph: invalid port format (op=CREATE_LINK)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("BIND", CodePermission, syscall.EPERM)

	require.Equal(t, syscall.EPERM, err.Errno)
	require.Equal(t, CodePermission, err.Code)
}

func TestObjectError(t *testing.T) {
	err := NewObjectError("DESTROY", 42, CodeNoSuchObject, "object gone")

	require.Equal(t, uint32(42), err.ObjectID)
	require.Equal(t, "mediagraph: object gone (op=DESTROY)", err.Error())
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("DESTROY", inner)

	require.Equal(t, CodeNoSuchObject, err.Code)
	require.Equal(t, syscall.ENOENT, err.Errno)
	require.True(t, errors.Is(err, syscall.ENOENT))
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("DESTROY", nil))
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewObjectError("CREATE_LINK", 7, CodeBusy, "port busy")
	wrapped := WrapError("RETRY", inner)

	require.Equal(t, CodeBusy, wrapped.Code)
	require.Equal(t, uint32(7), wrapped.ObjectID)
}

func TestErrorIsComparesByCode(t *testing.T) {
	var sentinel error = &Error{Code: CodeNoSuchObject}
	structuredErr := &Error{Code: CodeNoSuchObject, Op: "LOOKUP"}

	require.True(t, errors.Is(structuredErr, sentinel))
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", CodeFatal, "operation failed")

	require.True(t, IsCode(err, CodeFatal))
	require.False(t, IsCode(err, CodeBusy))
	require.False(t, IsCode(nil, CodeFatal))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("TEST", CodeDisconnected, syscall.EPIPE)

	require.True(t, IsErrno(err, syscall.EPIPE))
	require.False(t, IsErrno(err, syscall.EPERM))
	require.False(t, IsErrno(nil, syscall.EPIPE))
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, CodeNoSuchObject},
		{syscall.EBUSY, CodeBusy},
		{syscall.EINVAL, CodeInvalidArgument},
		{syscall.EPERM, CodePermission},
		{syscall.ENOMEM, CodeResourceLimit},
		{syscall.EPIPE, CodeDisconnected},
		{syscall.ENOSYS, CodeNotSupported},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}
