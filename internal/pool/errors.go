package pool

import "errors"

// ErrPoolEmpty is returned by Dequeue when no buffer is currently free.
var ErrPoolEmpty = errors.New("pool: no free buffers")
