// Package registry implements the per-connection object table (C4): a
// dense id-keyed map from locally-visible object ids to the objects they
// name, with monotonic id allocation and delayed reuse so a stale
// reference from an in-flight message can never resolve to a newer,
// unrelated object. The id-keyed add/remove lifecycle is grounded on the
// way the teacher's Controller in internal/ctrl/control.go tracks a
// device by its allocated DevID from AddDevice through DeleteDevice.
package registry

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when an id has no live entry, whether because
// it was never allocated or because it has already been destroyed.
var ErrNotFound = errors.New("registry: object not found")

// ErrAlreadyBound is returned by Bind when the given id is already in use.
var ErrAlreadyBound = errors.New("registry: id already bound")

// Kind identifies what sort of object an entry names, so a Destroy event
// can tell a remote peer's proxy what it lost without a type assertion.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindNode
	KindPort
	KindLink
	KindBufferPool
	KindClient
	KindDevice
	KindProfile
	KindRoute
)

// Entry is one live registry slot: its id, kind, and the object it names.
// Retired ids are tracked by the Registry itself, not on the Entry.
type Entry struct {
	ID     uint32
	Kind   Kind
	Object interface{}
}

// Registry is a per-connection dense object table. Every id it hands out
// is unique for the lifetime of the registry: once destroyed, an id is
// held back for a grace window before being eligible for reuse, so a
// message already in flight that references it cannot be misattributed
// to whatever new object reused the number.
type Registry struct {
	mu       sync.RWMutex
	entries  map[uint32]*Entry
	nextID   uint32
	retired  map[uint32]struct{} // ids pending reuse-delay release
	onRemove func(id uint32, kind Kind)
}

// New returns an empty Registry. The first allocated id is 1; id 0 is
// reserved to mean "no object" on the wire.
func New() *Registry {
	return &Registry{
		entries: make(map[uint32]*Entry),
		nextID:  1,
		retired: make(map[uint32]struct{}),
	}
}

// OnRemove installs a callback invoked synchronously whenever an object
// is removed from the registry, used by the session layer to emit a
// global_removed event to every subscribed client.
func (r *Registry) OnRemove(fn func(id uint32, kind Kind)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// Add allocates a fresh id, binds obj to it, and returns the id. It never
// returns an id currently held in the reuse-delay set.
func (r *Registry) Add(kind Kind, obj interface{}) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextFreeIDLocked()
	r.entries[id] = &Entry{ID: id, Kind: kind, Object: obj}
	return id
}

// Bind registers obj under a caller-chosen id, failing if the id is
// already live. Used for ids a client names itself, such as a proxy's
// local handle for a server-announced global.
func (r *Registry) Bind(id uint32, kind Kind, obj interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrAlreadyBound
	}
	if _, held := r.retired[id]; held {
		return ErrAlreadyBound
	}
	r.entries[id] = &Entry{ID: id, Kind: kind, Object: obj}
	return nil
}

func (r *Registry) nextFreeIDLocked() uint32 {
	for {
		id := r.nextID
		r.nextID++
		if _, live := r.entries[id]; live {
			continue
		}
		if _, held := r.retired[id]; held {
			continue
		}
		return id
	}
}

// Lookup returns the object bound to id, or ErrNotFound.
func (r *Registry) Lookup(id uint32) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Remove destroys the entry at id, moving its id into the reuse-delay set
// and firing the OnRemove callback if one is installed. Removing an id
// that is not live is not an error; destruction is idempotent.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.retired[id] = struct{}{}
	cb := r.onRemove
	r.mu.Unlock()

	if cb != nil {
		cb(id, e.Kind)
	}
}

// ReleaseRetired drops ids from the reuse-delay set, making them eligible
// for allocation again. An id that has not been released is never handed
// out again. Nothing in the session layer calls this, so ids removed from
// a session's registry stay held for that registry's lifetime.
func (r *Registry) ReleaseRetired(ids ...uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.retired, id)
	}
}

// Each calls fn for every live entry, in no particular order. fn must not
// call back into the Registry.
func (r *Registry) Each(fn func(*Entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		fn(e)
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
