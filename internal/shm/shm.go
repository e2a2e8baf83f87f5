// Package shm implements the shared-memory buffer region primitive (C2):
// allocating anonymous sealed memfds, importing fds received from a peer,
// and double-mapping a region so a ring index can wrap without a
// conditional, mirroring the teacher's mmapQueues technique in
// internal/queue/runner.go but built on golang.org/x/sys/unix instead of
// raw syscall.Syscall6, and sized by the caller instead of a fixed queue
// depth.
package shm

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SealMode controls which memfd seals Allocate applies when it creates a
// region, before anything is written to it, matching the guarantee spec.md §4.2 requires: once a pool
// advertises a region to consumers, the producer can no longer resize or
// shrink it out from under them.
type SealMode int

const (
	// SealNone applies no seals; used for regions a single process keeps
	// entirely private.
	SealNone SealMode = iota
	// SealShrinkGrow prevents resizing (shrink/grow) but still allows
	// writes, for regions whose size must stay fixed once shared.
	SealShrinkGrow
)

// Region is a single anonymous memfd-backed shared memory mapping.
type Region struct {
	fd   int
	size int

	mu     sync.Mutex
	mapped []byte
	refs   int
}

// Allocate creates a new anonymous region of size bytes, sealed as seal
// selects (SealNone leaves it unsealed), named for diagnostics only (visible in /proc/<pid>/fd, never sent on the wire).
func Allocate(name string, size int, seal SealMode) (*Region, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate: %w", err)
	}
	if seal == SealShrinkGrow {
		if err := unix.FcntlFileSeal(uintptr(fd), unix.F_SEAL_SHRINK|unix.F_SEAL_GROW); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("shm: add seals: %w", err)
		}
	}
	return &Region{fd: fd, size: size}, nil
}

// Import wraps a file descriptor received from a peer (typically via
// SCM_RIGHTS over internal/transport) as a Region of the given size. The
// caller is expected to have already read the region's size out of the
// pod message that carried fd; Import does not stat the fd.
func Import(fd, size int) *Region {
	return &Region{fd: fd, size: size}
}

// Fd returns the region's underlying file descriptor, for attaching to an
// outgoing pod.Builder.PutFd call when sharing this region with a peer.
func (r *Region) Fd() int {
	return r.fd
}

// Size returns the region's byte length.
func (r *Region) Size() int {
	return r.size
}

// Map maps the region into this process's address space, reference
// counting repeated calls so multiple owners (e.g. a pool and each of its
// buffer views) can Map/Unmap independently.
func (r *Region) Map() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mapped != nil {
		r.refs++
		return r.mapped, nil
	}

	b, err := unix.Mmap(r.fd, 0, r.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	r.mapped = b
	r.refs = 1
	return b, nil
}

// Unmap releases one reference to the region's mapping, actually
// unmapping once the last reference is released.
func (r *Region) Unmap() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mapped == nil {
		return nil
	}
	r.refs--
	if r.refs > 0 {
		return nil
	}
	err := unix.Munmap(r.mapped)
	r.mapped = nil
	return err
}

// Close unmaps the region if still mapped and closes its file descriptor.
// After Close the Region must not be used again.
func (r *Region) Close() error {
	r.mu.Lock()
	mapped := r.mapped
	r.mapped = nil
	r.refs = 0
	r.mu.Unlock()

	if mapped != nil {
		_ = unix.Munmap(mapped)
	}
	return unix.Close(r.fd)
}

// MapRing maps size bytes of the region twice, back to back in virtual
// memory, at consecutive addresses, so a ring-buffer index running past
// the end of the first mapping reads the same bytes again at the start of
// the second without the reader needing to special-case the wraparound.
// It requires the region to be at least size bytes and size to be a
// multiple of the system page size.
func MapRing(r *Region, size int) ([]byte, error) {
	pageSize := unix.Getpagesize()
	if size%pageSize != 0 {
		return nil, fmt.Errorf("shm: ring size %d not a multiple of page size %d", size, pageSize)
	}
	if r.size < size {
		return nil, fmt.Errorf("shm: region too small for ring of size %d", size)
	}

	// Reserve a contiguous 2*size region, then overlay both halves onto
	// the same backing fd so writes through either half are visible
	// through the other.
	base, err := unix.Mmap(-1, 0, 2*size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("shm: reserve ring mapping: %w", err)
	}

	if err := mmapFixed(base, r.fd, size); err != nil {
		_ = unix.Munmap(base)
		return nil, err
	}
	if err := mmapFixed(base[size:], r.fd, size); err != nil {
		_ = unix.Munmap(base)
		return nil, err
	}
	return base, nil
}

// mmapFixed overlays fd's first size bytes onto the address backing at,
// the way the teacher calls syscall.Syscall6(SYS_MMAP, ...) directly in
// internal/queue/runner.go's mmapQueues when it needs a specific
// per-queue offset rather than letting the kernel choose an address.
func mmapFixed(at []byte, fd int, size int) error {
	addr := uintptr(unsafe.Pointer(&at[0]))
	_, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_FIXED,
		uintptr(fd),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("shm: fixed mmap: %w", errno)
	}
	return nil
}
