package session

import "github.com/behrlich/mediagraphd/internal/transport"

// Permission is the R/W/X bitmask spec.md §4.9 grants a connection over a
// single global: R (read/observe), W (modify), X (invoke methods).
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
)

// Has reports whether p grants every bit in want.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// PermissionFunc computes the permission bits a connecting peer holds
// over a given global, based on its kernel-verified credentials. The
// default AllowAll grants every bit to every peer; a session manager
// embedding this package supplies a stricter policy (e.g. uid-based
// ACLs) by passing its own PermissionFunc in Config.
type PermissionFunc func(creds transport.Credentials, g *Global) Permission

// AllowAll is the default PermissionFunc: every connected peer gets full
// R/W/X on every global, appropriate for a single-user desktop session
// with no policy layer installed above the core.
func AllowAll(transport.Credentials, *Global) Permission {
	return PermRead | PermWrite | PermExecute
}
