// Package mediagraph is the public API of the media graph daemon: it wires
// together the registry, graph manager and realtime scheduler and exposes a
// small handle for embedding the daemon's core in a process.
package mediagraph

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured error with context and errno mapping.
type Error struct {
	Op       string // Operation that failed (e.g., "CREATE_LINK", "BIND")
	ObjectID uint32 // Object id involved (0 if not applicable)
	Code     ErrorCode
	Errno    syscall.Errno // Underlying errno (0 if not applicable)
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ObjectID != 0 {
		parts = append(parts, fmt.Sprintf("object=%d", e.ObjectID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("mediagraph: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("mediagraph: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, comparing by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error kinds of spec.md §7.
type ErrorCode string

const (
	CodeInvalidArgument ErrorCode = "invalid argument"
	CodeNotSupported    ErrorCode = "not supported"
	CodeNoSuchObject    ErrorCode = "no such object"
	CodeBusy            ErrorCode = "busy"
	CodeWouldBlock      ErrorCode = "would block"
	CodeDisconnected    ErrorCode = "disconnected"
	CodeMalformed       ErrorCode = "malformed payload"
	CodePermission      ErrorCode = "permission denied"
	CodeResourceLimit   ErrorCode = "resource limit exceeded"
	CodeFatal           ErrorCode = "fatal"
	CodeNoFormat        ErrorCode = "no common format"
)

// Error constructors, in the teacher's shape: one constructor per context
// an error can originate from (plain, errno-carrying, object-scoped).

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewObjectError creates a new object-scoped error.
func NewObjectError(op string, objectID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ObjectID: objectID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with mediagraph context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if me, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			ObjectID: me.ObjectID,
			Code:     me.Code,
			Errno:    me.Errno,
			Msg:      me.Msg,
			Inner:    me.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: CodeFatal, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a syscall errno to an error kind.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return CodeNoSuchObject
	case syscall.EBUSY:
		return CodeBusy
	case syscall.EAGAIN:
		return CodeWouldBlock
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeNotSupported
	case syscall.EPERM, syscall.EACCES:
		return CodePermission
	case syscall.ENOMEM, syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE:
		return CodeResourceLimit
	case syscall.EPIPE, syscall.ECONNRESET:
		return CodeDisconnected
	default:
		return CodeFatal
	}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsErrno reports whether err is a *Error carrying the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Errno == errno
	}
	return false
}
