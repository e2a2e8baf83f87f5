package shm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// importKey identifies the same underlying memfd across repeated imports,
// since a peer may resend the same buffer pool's region fd on every
// reconnect or every new consumer port attaching to it.
type importKey struct {
	dev uint64
	ino uint64
}

// importRegistry deduplicates Import calls within a process so the same
// remote region is only ever mapped once, with a refcount tracking how
// many callers still hold it.
type importRegistry struct {
	mu    sync.Mutex
	byKey map[importKey]*importedRegion
}

type importedRegion struct {
	region *Region
	refs   int
}

var imports = &importRegistry{byKey: make(map[importKey]*importedRegion)}

// ImportDedup wraps fd as a Region, reusing an existing Region if this
// process has already imported the same underlying memfd. It never closes
// fd: the caller still owns fd and must close it. A new Region holds its
// own dup of fd; a reused one only has fd's identity inspected via fstat.
func ImportDedup(fd, size int) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	key := importKey{dev: uint64(st.Dev), ino: st.Ino}

	imports.mu.Lock()
	defer imports.mu.Unlock()

	if existing, ok := imports.byKey[key]; ok {
		existing.refs++
		return existing.region, nil
	}

	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}
	r := Import(dup, size)
	imports.byKey[key] = &importedRegion{region: r, refs: 1}
	return r, nil
}

// ReleaseImport drops one reference obtained via ImportDedup, closing the
// deduplicated Region once its last holder releases it.
func ReleaseImport(r *Region) error {
	var st unix.Stat_t
	if err := unix.Fstat(r.fd, &st); err != nil {
		return err
	}
	key := importKey{dev: uint64(st.Dev), ino: st.Ino}

	imports.mu.Lock()
	defer imports.mu.Unlock()

	entry, ok := imports.byKey[key]
	if !ok {
		return r.Close()
	}
	entry.refs--
	if entry.refs > 0 {
		return nil
	}
	delete(imports.byKey, key)
	return entry.region.Close()
}
