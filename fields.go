package ldapmap

import (
	"fmt"
	"strconv"

	"github.com/go-ldap/ldap/v3"
)

// FieldInfo carries the wire attribute name and the flags shared by every
// field kind. A field is declared once at schema-definition time and is
// immutable thereafter; it holds no per-node state.
type FieldInfo struct {
	// LDAP is the wire attribute name, as opposed to the in-memory
	// field name the schema binds it to.
	LDAP string

	// Optional controls whether the field is mandatory during node
	// construction.
	Optional bool

	// ReadOnly fields accept a value during construction only; later
	// writes and deletes warn and leave the value unchanged.
	ReadOnly bool

	// Printable fields appear in PrettyPrint output.
	Printable bool

	// Primary marks the field that primarily identifies the node. At
	// most one field per schema may set it.
	Primary bool

	// System marks server-managed metadata (creation timestamps and the
	// like) that is never diffed, saved or compared.
	System bool
}

// Field converts between the directory wire representation of an attribute
// and its typed in-memory value.
type Field interface {
	// Info returns the wire name and flags.
	Info() FieldInfo

	// Default returns the value used when none is provided.
	Default() any

	// Derived reports whether the value is computed (from the DN,
	// usually) rather than stored as a concrete attribute. Derived
	// fields never appear in diffs and are never written.
	Derived() bool

	// Populate extracts this field's value from a raw search result.
	// Absent attributes yield nil, or the empty container for
	// multi-valued kinds.
	Populate(dn string, entry *ldap.Entry) any

	// Coerce normalizes a caller-supplied value into the canonical
	// in-memory representation, returning a CoercionError when the
	// value cannot be converted.
	Coerce(value any) (any, error)

	// Sanitize converts the canonical value into wire form for a write.
	// A nil or empty result means "delete this attribute".
	Sanitize(value any) ([]string, error)
}

// Option adjusts a field flag at declaration time.
type Option func(*FieldInfo)

// Optional makes the field non-mandatory during construction.
func Optional() Option { return func(i *FieldInfo) { i.Optional = true } }

// ReadOnly restricts writes to construction time.
func ReadOnly() Option { return func(i *FieldInfo) { i.ReadOnly = true } }

// Primary marks the field as the node's primary identifier.
func Primary() Option { return func(i *FieldInfo) { i.Primary = true } }

// Unprintable hides the field from PrettyPrint output.
func Unprintable() Option { return func(i *FieldInfo) { i.Printable = false } }

// System marks the field as server-managed metadata.
func System() Option {
	return func(i *FieldInfo) {
		i.System = true
		i.Optional = true
	}
}

func newFieldInfo(attr string, opts []Option) FieldInfo {
	info := FieldInfo{LDAP: attr, Printable: true}
	for _, opt := range opts {
		opt(&info)
	}
	return info
}

type baseField struct {
	info FieldInfo
}

func (f *baseField) Info() FieldInfo { return f.info }
func (f *baseField) Default() any    { return nil }
func (f *baseField) Derived() bool   { return false }

// firstValue returns the first wire value of the attribute, or nil when the
// entry does not carry it.
func (f *baseField) firstValue(entry *ldap.Entry) any {
	vals := entry.GetEqualFoldAttributeValues(f.info.LDAP)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// StringField holds one textual value. Numeric input is stringified.
type StringField struct {
	baseField
}

// String declares a scalar text field backed by the given wire attribute.
func String(attr string, opts ...Option) *StringField {
	return &StringField{baseField{newFieldInfo(attr, opts)}}
}

func (f *StringField) Populate(dn string, entry *ldap.Entry) any {
	return f.firstValue(entry)
}

func (f *StringField) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("%v is not a string", value)}
	}
}

func (f *StringField) Sanitize(value any) ([]string, error) {
	coerced, err := f.Coerce(value)
	if err != nil {
		return nil, err
	}
	s, _ := coerced.(string)
	if s == "" {
		return nil, nil
	}
	return []string{s}, nil
}

// IntegerField converts between the directory's decimal text representation
// and int values.
type IntegerField struct {
	baseField
}

// Integer declares an integer field backed by the given wire attribute.
func Integer(attr string, opts ...Option) *IntegerField {
	return &IntegerField{baseField{newFieldInfo(attr, opts)}}
}

func (f *IntegerField) Populate(dn string, entry *ldap.Entry) any {
	return f.firstValue(entry)
}

func (f *IntegerField) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		if f.info.Optional {
			return nil, nil
		}
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("value for %s cannot be converted to an integer", f.info.LDAP)}
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		n := int(v)
		if int64(n) != v {
			return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
				Msg: fmt.Sprintf("%d overflows int", v)}
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
				Msg: fmt.Sprintf("%s must be an int: got %s", f.info.LDAP, v)}
		}
		return n, nil
	default:
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("value for %s cannot be converted to an integer", f.info.LDAP)}
	}
}

func (f *IntegerField) Sanitize(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	coerced, err := f.Coerce(value)
	if err != nil {
		return nil, err
	}
	return []string{strconv.Itoa(coerced.(int))}, nil
}

// ListField holds multiple textual values. It always materializes as a
// string slice: a scalar coerces to a one-element slice, and an absent
// attribute to an empty slice.
type ListField struct {
	baseField
}

// List declares a multi-valued text field backed by the given wire
// attribute.
func List(attr string, opts ...Option) *ListField {
	return &ListField{baseField{newFieldInfo(attr, opts)}}
}

func (f *ListField) Default() any { return []string{} }

func (f *ListField) Populate(dn string, entry *ldap.Entry) any {
	return append([]string{}, entry.GetEqualFoldAttributeValues(f.info.LDAP)...)
}

func (f *ListField) Coerce(value any) (any, error) {
	return toStringList(value), nil
}

func (f *ListField) Sanitize(value any) ([]string, error) {
	return toStringList(value), nil
}

// BinaryField holds opaque bytes. Values are never decoded as text and are
// rendered in human output as a byte-count placeholder.
type BinaryField struct {
	baseField
}

// Binary declares an opaque byte field backed by the given wire attribute.
func Binary(attr string, opts ...Option) *BinaryField {
	return &BinaryField{baseField{newFieldInfo(attr, opts)}}
}

func (f *BinaryField) Populate(dn string, entry *ldap.Entry) any {
	vals := entry.GetEqualFoldRawAttributeValues(f.info.LDAP)
	if len(vals) == 0 {
		return nil
	}
	return append([]byte{}, vals[0]...)
}

func (f *BinaryField) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte{}, v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("value for %s is not binary", f.info.LDAP)}
	}
}

func (f *BinaryField) Sanitize(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return []string{string(v)}, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	default:
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("value for %s is not binary", f.info.LDAP)}
	}
}

// DNPartField takes its value from a component of the node's DN instead of
// the entry's own attributes. With DN cn=foo,device=device1,ou=devices and
// part "device", the field value is "device1".
//
// The value is computed, not stored: writing it to the directory is always
// an error, and there is no way to make it optional.
type DNPartField struct {
	baseField
}

// DNPart declares a field derived from the named DN component.
func DNPart(attr string, opts ...Option) *DNPartField {
	return &DNPartField{baseField{newFieldInfo(attr, opts)}}
}

func (f *DNPartField) Derived() bool { return true }

func (f *DNPartField) Populate(dn string, entry *ldap.Entry) any {
	if v := dnAttribute(dn, f.info.LDAP); v != "" {
		return v
	}
	return nil
}

func (f *DNPartField) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Node:
		return stringifyValue(v), nil
	case string:
		return v, nil
	default:
		return nil, &CoercionError{Attr: f.info.LDAP, Value: value,
			Msg: fmt.Sprintf("value for %s is not a DN component", f.info.LDAP)}
	}
}

func (f *DNPartField) Sanitize(value any) ([]string, error) {
	return nil, fmt.Errorf("dn part field %s is derived and cannot be written", f.info.LDAP)
}
