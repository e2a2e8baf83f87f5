package session

import "errors"

// ErrUnknownFactory is returned by CreateObject handling when the
// requested factory name has no registered constructor.
var ErrUnknownFactory = errors.New("session: unknown factory")

// ErrPermissionDenied is returned when a peer's credentials do not grant
// the permission bit a requested operation needs.
var ErrPermissionDenied = errors.New("session: permission denied")

// ErrUnknownObject is returned when an opcode targets an object id the
// session has no resource bound for.
var ErrUnknownObject = errors.New("session: unknown object")

// ResultCode is the numeric error kind carried on the wire by the Error
// event's res field, spec.md §7's taxonomy in wire form.
type ResultCode int32

const (
	ResultOK ResultCode = iota
	ResultInvalidArgument
	ResultNotSupported
	ResultNoMemory
	ResultNoSpace
	ResultIoError
	ResultPermissionDenied
	ResultNotFound
	ResultAlreadyExists
	ResultBusy
	ResultTimeout
	ResultPeerGone
	ResultMalformed
	ResultNoFormat
	ResultInvalidParam
	ResultXRun
	ResultFatal
)
