//go:build !iouring
// +build !iouring

package signal

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollMulti is the default Multi, built on poll(2). It is the
// fallback used unless the binary is built with -tags iouring, the same
// default/accelerated split the teacher draws between its stub and real
// io_uring ring.
type pollMulti struct {
	mu  sync.Mutex
	fds map[int]Signaler
}

// NewMulti returns the default Multi implementation.
func NewMulti() (Multi, error) {
	return &pollMulti{fds: make(map[int]Signaler)}, nil
}

func (m *pollMulti) Add(s Signaler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fds[s.Fd()] = s
	return nil
}

func (m *pollMulti) Remove(s Signaler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fds, s.Fd())
	return nil
}

func (m *pollMulti) WaitAny(deadline time.Time) ([]int, error) {
	m.mu.Lock()
	pollFds := make([]unix.PollFd, 0, len(m.fds))
	for fd := range m.fds {
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	m.mu.Unlock()

	n, err := unix.Poll(pollFds, msUntil(deadline))
	if err != nil {
		return nil, fmt.Errorf("signal: poll: %w", err)
	}
	if n == 0 {
		return nil, ErrTimeout
	}

	var fired []int
	for _, pfd := range pollFds {
		if pfd.Revents&unix.POLLIN != 0 {
			fired = append(fired, int(pfd.Fd))
		}
	}
	return fired, nil
}

func (m *pollMulti) Close() error {
	return nil
}
