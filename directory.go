package ldapmap

import (
	"context"

	"github.com/go-ldap/ldap/v3"
)

// Scope selects how deep a search descends from its base DN.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOne
	ScopeSubtree
)

// String returns the protocol name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOne:
		return "one"
	case ScopeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// Directory is the transport contract the mapper consumes. Conn implements
// it over a live LDAP connection; tests implement it in memory.
//
// The attribute mutation methods return (false, nil) on ordinary transport
// failures, which callers log and absorb. Domain conditions surface as
// typed errors (NoSuchDNError, DuplicateValueError, NoSuchAttrValueError,
// AddFailedError), and structural conditions such as invalid DN syntax
// propagate as-is.
type Directory interface {
	// BaseDN returns the base DN of the directory tree.
	BaseDN() string

	// Search returns the entries under base matching filter, carrying
	// the requested attributes.
	Search(ctx context.Context, base string, scope Scope, filter string, attrs []string) ([]*ldap.Entry, error)

	// Add creates the entry at dn with the given attributes.
	Add(ctx context.Context, dn string, attrs map[string][]string) (bool, error)

	// ModifyAttr replaces every value of one attribute on dn.
	ModifyAttr(ctx context.Context, dn, attr string, values []string) (bool, error)

	// AddAttr adds values to one attribute on dn.
	AddAttr(ctx context.Context, dn, attr string, values []string) (bool, error)

	// DeleteAttr removes the given values of one attribute on dn, or the
	// whole attribute when values is empty.
	DeleteAttr(ctx context.Context, dn, attr string, values []string) (bool, error)

	// Delete removes the entry at dn.
	Delete(ctx context.Context, dn string) (bool, error)

	// Exists reports whether dn names an existing entry. Malformed DNs
	// report false rather than failing.
	Exists(ctx context.Context, dn string) bool

	// WhoAmI returns the DN bound to this connection, or "" for an
	// anonymous session.
	WhoAmI(ctx context.Context) (string, error)
}
