package signal

import "errors"

// ErrTimeout is returned by Wait and WaitAny when the deadline elapses
// without a signal firing.
var ErrTimeout = errors.New("signal: wait timed out")
