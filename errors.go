package ldapmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// SchemaError reports an invalid schema declaration, such as more than one
// primary field. It is returned from SchemaBuilder.Build and indicates a
// programming error, not a runtime condition.
type SchemaError struct {
	Schema string
	Msg    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %s", e.Schema, e.Msg)
}

// ConstructionError reports a failed node construction: either required
// fields were omitted, or a value was supplied for an undeclared field.
type ConstructionError struct {
	Schema  string
	Missing []string // required field names that were not supplied
	Unknown string   // a supplied name that is not a declared field
}

func (e *ConstructionError) Error() string {
	if e.Unknown != "" {
		return fmt.Sprintf("'%s' is not a declared field on %s", e.Unknown, e.Schema)
	}
	switch len(e.Missing) {
	case 0:
		return fmt.Sprintf("invalid construction of %s", e.Schema)
	case 1:
		return fmt.Sprintf("required field '%s' is missing", e.Missing[0])
	default:
		quoted := make([]string, len(e.Missing))
		for i, f := range e.Missing {
			quoted[i] = fmt.Sprintf("'%s'", f)
		}
		return fmt.Sprintf("required fields [%s] are missing", strings.Join(quoted, ", "))
	}
}

// CoercionError reports a value that cannot be converted to a field's typed
// representation.
type CoercionError struct {
	Attr  string // wire attribute name of the field
	Value any
	Msg   string
}

func (e *CoercionError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Attr, e.Msg)
	}
	return fmt.Sprintf("%s: cannot coerce %v", e.Attr, e.Value)
}

// QueryError reports a filter condition that references a field name not
// declared on the target schema.
type QueryError struct {
	Field string
	Valid []string
	Msg   string
}

func (e *QueryError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("unknown field %q in query; valid fields are [%s]",
			e.Field, strings.Join(e.Valid, ", "))
	}
	return e.Msg
}

// ArgumentError reports invalid arguments to a mapper operation.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

// NoSuchDNError reports an operation against a DN that does not exist.
type NoSuchDNError struct {
	DN string
}

func (e *NoSuchDNError) Error() string {
	return fmt.Sprintf("DN %s does not exist", e.DN)
}

// DuplicateValueError reports an attempt to write a value an attribute
// already holds.
type DuplicateValueError struct {
	Attr   string
	Values []string
}

func (e *DuplicateValueError) Error() string {
	return fmt.Sprintf("attribute %q has duplicate value(s): %s",
		e.Attr, strings.Join(e.offending(), ", "))
}

// offending returns the values that appear more than once, or all values
// when no internal duplicate exists (the conflict is then with the server's
// copy).
func (e *DuplicateValueError) offending() []string {
	seen := make(map[string]int, len(e.Values))
	for _, v := range e.Values {
		seen[v]++
	}
	var dups []string
	for v, n := range seen {
		if n >= 2 {
			dups = append(dups, v)
		}
	}
	if len(dups) == 0 {
		return e.Values
	}
	sort.Strings(dups)
	return dups
}

// NoSuchAttrValueError reports a delete of an attribute value a DN does not
// have.
type NoSuchAttrValueError struct {
	DN     string
	Attr   string
	Values []string
}

func (e *NoSuchAttrValueError) Error() string {
	return fmt.Sprintf("DN %s does not have %s %s", e.DN, e.Attr, strings.Join(e.Values, ", "))
}

// AddFailedError reports a failed entry add, typically because the parent
// container is absent.
type AddFailedError struct {
	DN    string
	Cause error
}

func (e *AddFailedError) Error() string {
	return fmt.Sprintf("unable to add DN %s to the directory", e.DN)
}

func (e *AddFailedError) Unwrap() error {
	return e.Cause
}

// Result-code predicates over the go-ldap error surface.

// isNotFound reports whether err indicates the search base or entry does
// not exist.
func isNotFound(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}

// isFilterError reports whether err indicates a malformed search filter.
func isFilterError(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultFilterError) ||
		ldap.IsErrorWithCode(err, ldap.ErrorFilterCompile)
}

// isInvalidDN reports whether err indicates structurally invalid DN syntax.
// These errors always propagate to the caller.
func isInvalidDN(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidDNSyntax)
}

// isDuplicateValue reports whether err indicates the attribute or value
// already exists on the entry.
func isDuplicateValue(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists)
}

// isNoSuchAttribute reports whether err indicates the attribute or value is
// not present on the entry.
func isNoSuchAttribute(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute)
}

// isUnreachable reports whether err indicates the directory connection is
// stale or the server cannot be contacted.
func isUnreachable(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable)
}
