package signal

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// eventFD is the default Signaler, built on Linux's eventfd(2): Signal
// writes a 64-bit counter increment, Wait reads (and so clears) it,
// blocking via poll(2) with a computed timeout when no value is pending.
type eventFD struct {
	fd int
}

// NewEventFD returns a Signaler backed by a non-blocking eventfd.
func NewEventFD() (Signaler, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("signal: eventfd: %w", err)
	}
	return &eventFD{fd: fd}, nil
}

func (e *eventFD) Signal() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(e.fd, buf)
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("signal: eventfd write: %w", err)
	}
	return nil
}

func (e *eventFD) Wait(deadline time.Time) error {
	for {
		buf := make([]byte, 8)
		n, err := unix.Read(e.fd, buf)
		if err == nil && n == 8 {
			return nil
		}
		if err != nil && err != unix.EAGAIN {
			return fmt.Errorf("signal: eventfd read: %w", err)
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrTimeout
		}

		fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
		n2, err := unix.Poll(fds, msUntil(deadline))
		if err != nil {
			return fmt.Errorf("signal: poll: %w", err)
		}
		if n2 == 0 {
			return ErrTimeout
		}
	}
}

func (e *eventFD) Fd() int {
	return e.fd
}

func (e *eventFD) Close() error {
	return unix.Close(e.fd)
}

// msUntil converts a deadline to a millisecond timeout for poll(2). A
// zero deadline (Go's convention for "no deadline") blocks forever; any
// other deadline that has not yet passed is converted to the remaining
// whole milliseconds, rounded up so the waiter never wakes early.
func msUntil(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	return int(ms)
}
