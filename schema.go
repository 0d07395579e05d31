package ldapmap

import (
	"fmt"
	"regexp"
	"strings"
)

// SchemaBuilder collects field declarations and metadata for one kind of
// directory entry. Build validates the collected declarations and produces
// an immutable Schema.
type SchemaBuilder struct {
	name                  string
	parent                *Schema
	objectClasses         []string
	excludedObjectClasses []string
	primaryDNPrefix       string
	secondaryDNPrefix     string
	dnFormat              string
	identifyingAttrs      []string
	searchableFields      []string
	decls                 []fieldDecl
}

type fieldDecl struct {
	name  string
	field Field
}

// NewSchema starts a schema declaration. The name doubles as the
// human-readable name used in diagnostics.
func NewSchema(name string) *SchemaBuilder {
	return &SchemaBuilder{name: name}
}

// Extends merges the parent schema's fields and metadata in first, so that
// fields redeclared here fully override the parent's, flags included.
func (b *SchemaBuilder) Extends(parent *Schema) *SchemaBuilder {
	b.parent = parent
	return b
}

// ObjectClasses sets the object-class values that identify entries of this
// type.
func (b *SchemaBuilder) ObjectClasses(classes ...string) *SchemaBuilder {
	b.objectClasses = classes
	return b
}

// ExcludedObjectClasses sets object classes whose presence disqualifies an
// entry from this type.
func (b *SchemaBuilder) ExcludedObjectClasses(classes ...string) *SchemaBuilder {
	b.excludedObjectClasses = classes
	return b
}

// PrimaryDNPrefix sets the DN-prefix template used when identifying values
// are supplied, e.g. "ou={dept},ou=people". Placeholders name fields in
// braces.
func (b *SchemaBuilder) PrimaryDNPrefix(prefix string) *SchemaBuilder {
	b.primaryDNPrefix = prefix
	return b
}

// SecondaryDNPrefix sets the DN prefix used for list and search operations
// when no identifying values are supplied.
func (b *SchemaBuilder) SecondaryDNPrefix(prefix string) *SchemaBuilder {
	b.secondaryDNPrefix = prefix
	return b
}

// DNFormat sets the RDN-construction template, e.g. "uid={uid}".
func (b *SchemaBuilder) DNFormat(format string) *SchemaBuilder {
	b.dnFormat = format
	return b
}

// IdentifyingAttrs names the fields whose values uniquely identify a node
// and feed DN construction.
func (b *SchemaBuilder) IdentifyingAttrs(names ...string) *SchemaBuilder {
	b.identifyingAttrs = names
	return b
}

// SearchableFields names the fields that prefix and substring searches
// match against.
func (b *SchemaBuilder) SearchableFields(names ...string) *SchemaBuilder {
	b.searchableFields = names
	return b
}

// Field declares a field under the given in-memory name. Declaration order
// is preserved; redeclaring a name inherited from the parent overrides it
// in place.
func (b *SchemaBuilder) Field(name string, f Field) *SchemaBuilder {
	b.decls = append(b.decls, fieldDecl{name: name, field: f})
	return b
}

// Build validates the declarations and returns the immutable schema.
// Declaring more than one primary field is a SchemaError.
func (b *SchemaBuilder) Build() (*Schema, error) {
	s := &Schema{
		name:                  b.name,
		objectClasses:         append([]string{}, b.objectClasses...),
		excludedObjectClasses: append([]string{}, b.excludedObjectClasses...),
		primaryDNPrefix:       b.primaryDNPrefix,
		secondaryDNPrefix:     b.secondaryDNPrefix,
		dnFormat:              b.dnFormat,
		identifyingAttrs:      append([]string{}, b.identifyingAttrs...),
		fields:                map[string]Field{},
	}

	if b.parent != nil {
		s.order = append(s.order, b.parent.order...)
		for name, f := range b.parent.fields {
			s.fields[name] = f
		}
		if len(s.objectClasses) == 0 {
			s.objectClasses = append([]string{}, b.parent.objectClasses...)
		}
		if len(s.excludedObjectClasses) == 0 {
			s.excludedObjectClasses = append([]string{}, b.parent.excludedObjectClasses...)
		}
		if s.primaryDNPrefix == "" {
			s.primaryDNPrefix = b.parent.primaryDNPrefix
		}
		if s.secondaryDNPrefix == "" {
			s.secondaryDNPrefix = b.parent.secondaryDNPrefix
		}
		if s.dnFormat == "" {
			s.dnFormat = b.parent.dnFormat
		}
		if len(s.identifyingAttrs) == 0 {
			s.identifyingAttrs = append([]string{}, b.parent.identifyingAttrs...)
		}
		if len(b.searchableFields) == 0 {
			s.searchableAttrs = append([]string{}, b.parent.searchableAttrs...)
		}
	}

	for _, decl := range b.decls {
		if _, exists := s.fields[decl.name]; !exists {
			s.order = append(s.order, decl.name)
		}
		s.fields[decl.name] = decl.field
	}

	for _, name := range s.order {
		f := s.fields[name]
		s.attrlist = append(s.attrlist, f.Info().LDAP)
		if !f.Info().System {
			s.nonSystem = append(s.nonSystem, name)
		}
		if f.Info().Primary {
			if s.primary != nil {
				return nil, &SchemaError{Schema: b.name,
					Msg: "can only have at most one primary field"}
			}
			s.primary = f
			s.primaryName = name
		}
	}

	// Searchable fields are declared by in-memory name and resolved to
	// wire attribute names here; an undeclared name passes through as a
	// raw attribute.
	for _, name := range b.searchableFields {
		if f, ok := s.fields[name]; ok {
			s.searchableAttrs = append(s.searchableAttrs, f.Info().LDAP)
		} else {
			s.searchableAttrs = append(s.searchableAttrs, name)
		}
	}

	return s, nil
}

// MustBuild is Build, panicking on declaration errors. Schema declarations
// are static program structure, so a failure here is a programming error.
func (b *SchemaBuilder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// Schema is the immutable field map and metadata for one entry type.
type Schema struct {
	name                  string
	objectClasses         []string
	excludedObjectClasses []string
	primaryDNPrefix       string
	secondaryDNPrefix     string
	dnFormat              string
	identifyingAttrs      []string
	searchableAttrs       []string

	order       []string // field names in declaration order, parents first
	fields      map[string]Field
	nonSystem   []string
	attrlist    []string
	primary     Field
	primaryName string
}

// Name returns the human-readable name of the entry type.
func (s *Schema) Name() string { return s.name }

// Field returns the field declared under name, or nil.
func (s *Schema) Field(name string) Field { return s.fields[name] }

// FieldNames returns every declared field name in declaration order.
func (s *Schema) FieldNames() []string {
	return append([]string{}, s.order...)
}

// NonSystemFieldNames returns the declared names of fields that take part
// in diffing, equality and persistence.
func (s *Schema) NonSystemFieldNames() []string {
	return append([]string{}, s.nonSystem...)
}

// AttrList returns the wire attribute names to request on searches.
func (s *Schema) AttrList() []string {
	return append([]string{}, s.attrlist...)
}

// PrimaryFieldName returns the in-memory name of the primary field, or ""
// when the schema has none.
func (s *Schema) PrimaryFieldName() string { return s.primaryName }

// PrimaryField returns the primary field, or nil when the schema has none.
func (s *Schema) PrimaryField() Field { return s.primary }

// ObjectClasses returns the object-class values for entries of this type.
func (s *Schema) ObjectClasses() []string {
	return append([]string{}, s.objectClasses...)
}

// ObjectClassFilter returns the filter selecting entries of this type: a
// conjunction over the object classes, with excluded classes negated.
func (s *Schema) ObjectClassFilter() (string, error) {
	f, err := buildFilter(opAnd, "objectClass", s.objectClasses)
	if err != nil {
		return "", &ArgumentError{Msg: fmt.Sprintf(
			"schema %s declares no object classes to search by", s.name)}
	}
	if len(s.excludedObjectClasses) > 0 {
		n, err := buildFilter("!", "objectClass", s.excludedObjectClasses)
		if err != nil {
			return "", err
		}
		f = "(&" + f + n + ")"
	}
	return f, nil
}

var templateKeyPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// expandTemplate substitutes {name} placeholders with the corresponding
// argument values, DN-escaped. A placeholder with no matching argument
// fails, naming the missing key.
func expandTemplate(tmpl string, args map[string]string) (string, error) {
	var missing string
	out := templateKeyPattern.ReplaceAllStringFunc(tmpl, func(ph string) string {
		key := strings.Trim(ph, "{}")
		val, ok := args[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return ph
		}
		return escapeDNValue(val)
	})
	if missing != "" {
		return "", fmt.Errorf("template %q: no value for key %q", tmpl, missing)
	}
	return out, nil
}
