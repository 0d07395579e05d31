package ldapmap

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var nopSugar = zap.NewNop().Sugar()

// Model binds a Schema to a Directory transport and provides the fetch,
// list and construction operations for that entry type. The zero hooks are
// all optional; a nil Directory falls back to the package default.
type Model struct {
	schema *Schema
	dir    Directory

	// Logger receives operation diagnostics. Nil disables them.
	Logger *zap.SugaredLogger

	// Validate is consulted by Save; returning false aborts the save
	// without writing. Nil means always valid.
	Validate func(*Node) bool

	// Lifecycle hooks around entry add and delete.
	BeforeAdd    func(*Node)
	AfterAdd     func(*Node)
	BeforeDelete func(*Node)
	AfterDelete  func(*Node)

	// SensitiveAttributes are masked in diagnostics and pretty output.
	SensitiveAttributes []string
}

// NewModel builds a model over the given schema and transport. A nil dir
// uses the registered default directory.
func NewModel(schema *Schema, dir Directory) *Model {
	if dir == nil {
		dir = DefaultDirectory()
	}
	return &Model{
		schema:              schema,
		dir:                 dir,
		SensitiveAttributes: []string{"userPassword"},
	}
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema { return m.schema }

// Directory returns the model's transport handle.
func (m *Model) Directory() Directory { return m.dir }

func (m *Model) logger() *zap.SugaredLogger {
	if m.Logger != nil {
		return m.Logger
	}
	return nopSugar
}

func (m *Model) sensitive(name string) bool {
	for _, s := range m.SensitiveAttributes {
		if s == name {
			return true
		}
	}
	if f := m.schema.Field(name); f != nil {
		for _, s := range m.SensitiveAttributes {
			if s == f.Info().LDAP {
				return true
			}
		}
	}
	return false
}

func (m *Model) obscure(name string, val any) any {
	if m.sensitive(name) {
		return "*****"
	}
	return val
}

// New constructs a node from field values. Every non-optional field must be
// supplied; a value under an undeclared name is rejected. Values are
// coerced into each field's canonical representation, so a failed
// conversion surfaces here as a CoercionError.
func (m *Model) New(values map[string]any) (*Node, error) {
	var missing []string
	for _, name := range m.schema.order {
		if m.schema.fields[name].Info().Optional {
			continue
		}
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ConstructionError{Schema: m.schema.name, Missing: missing}
	}

	supplied := make([]string, 0, len(values))
	for name := range values {
		supplied = append(supplied, name)
	}
	sort.Strings(supplied)
	for _, name := range supplied {
		if m.schema.Field(name) == nil {
			return nil, &ConstructionError{Schema: m.schema.name, Unknown: name}
		}
	}

	n := &Node{
		model:  m,
		values: make(map[string]any, len(m.schema.order)),
		log:    NewProxyLogger(m.logger()),
	}
	for _, name := range m.schema.order {
		f := m.schema.fields[name]
		if v, ok := values[name]; ok {
			coerced, err := f.Coerce(v)
			if err != nil {
				return nil, err
			}
			n.values[name] = coerced
		} else {
			n.values[name] = f.Default()
		}
	}
	n.ready = true
	return n, nil
}

// Node is one directory entry materialized through its schema. Its DN is
// derived from its identifying field values and cannot be set.
type Node struct {
	model  *Model
	values map[string]any
	log    *ProxyLogger

	// ready flips after construction; from then on read-only fields
	// reject writes.
	ready bool
}

// Model returns the model this node was built by.
func (n *Node) Model() *Model { return n.model }

// Schema returns the node's schema.
func (n *Node) Schema() *Schema { return n.model.schema }

// Logger returns the node's buffered diagnostic channel. Save and delete
// outcomes land here.
func (n *Node) Logger() *ProxyLogger { return n.log }

func (n *Node) hrn() string { return n.model.schema.name }

// Get returns the current value of a field, or nil for an undeclared name.
func (n *Node) Get(name string) any {
	return n.values[name]
}

// GetString returns a field value as a string, or "" when unset or not
// textual.
func (n *Node) GetString(name string) string {
	s, _ := n.values[name].(string)
	return s
}

// GetInt returns a field value as an int, or 0 when unset.
func (n *Node) GetInt(name string) int {
	i, _ := n.values[name].(int)
	return i
}

// GetList returns a field value as a string slice, or nil when unset.
func (n *Node) GetList(name string) []string {
	l, _ := n.values[name].([]string)
	return l
}

// Set assigns a field value, coercing it into the field's canonical
// representation. Writing a read-only field after construction warns and
// leaves the value unchanged.
func (n *Node) Set(name string, value any) error {
	f := n.model.schema.Field(name)
	if f == nil {
		return &ArgumentError{Msg: fmt.Sprintf("%s is not a valid attribute", name)}
	}
	if f.Info().ReadOnly && n.ready {
		n.log.Warnf("Cannot modify read-only field '%s'", name)
		return nil
	}
	coerced, err := f.Coerce(value)
	if err != nil {
		return err
	}
	n.values[name] = coerced
	return nil
}

// Unset restores a field to its default value. Deleting a read-only field
// after construction warns and leaves the value unchanged.
func (n *Node) Unset(name string) error {
	f := n.model.schema.Field(name)
	if f == nil {
		return &ArgumentError{Msg: fmt.Sprintf("%s is not a valid attribute", name)}
	}
	if f.Info().ReadOnly && n.ready {
		n.log.Warnf("Cannot delete read-only field '%s'", name)
		return nil
	}
	n.values[name] = f.Default()
	return nil
}

// HasAttrVal reports whether the named field holds the value, either as a
// list member or as the scalar value itself.
func (n *Node) HasAttrVal(name string, value any) bool {
	switch v := n.values[name].(type) {
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == s {
				return true
			}
		}
		return false
	default:
		return reflect.DeepEqual(v, value)
	}
}

// DNAttr returns the value of the primary field as held in memory, not
// necessarily as it is spelled in the directory.
func (n *Node) DNAttr() any {
	return n.values[n.model.schema.primaryName]
}

// DNAttrs maps each identifying field to its current value: the inputs to
// DN construction and refetching. List fields contribute their first
// element.
func (n *Node) DNAttrs() map[string]any {
	attrs := make(map[string]any, len(n.model.schema.identifyingAttrs))
	for _, name := range n.model.schema.identifyingAttrs {
		v := n.values[name]
		if list, ok := v.([]string); ok && len(list) > 0 {
			attrs[name] = list[0]
		} else {
			attrs[name] = v
		}
	}
	return attrs
}

// DN derives the entry's distinguished name from the schema's DN template,
// the identifying field values and the connection's base DN. The DN is
// never stored and cannot be assigned.
func (n *Node) DN() (string, error) {
	rdn, err := expandTemplate(n.model.schema.dnFormat, stringifyArgs(n.DNAttrs()))
	if err != nil {
		return "", err
	}
	return rdn + "," + n.model.dir.BaseDN(), nil
}

// Equal compares every non-system field value. System fields such as
// creation timestamps are excluded so that a freshly fetched copy equals
// the node that was saved.
func (n *Node) Equal(other *Node) bool {
	if other == nil || n.model.schema != other.model.schema {
		return false
	}
	for _, name := range n.model.schema.nonSystem {
		if !reflect.DeepEqual(n.values[name], other.values[name]) {
			return false
		}
	}
	return true
}

// Hash returns the xor of the hashes of every non-system field value,
// skipping values with no stable hash (slices). Two nodes differing only
// in list contents may therefore hash alike.
func (n *Node) Hash() uint64 {
	h := hashString("LTM")
	for _, name := range n.model.schema.nonSystem {
		switch v := n.values[name].(type) {
		case nil, []string, []byte:
			// unhashable or absent
		default:
			h ^= hashString(fmt.Sprint(v))
		}
	}
	return h
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Less orders nodes by their primary field values.
func (n *Node) Less(other *Node) bool {
	a, b := n.DNAttr(), other.DNAttr()
	if ai, ok := a.(int); ok {
		if bi, ok := b.(int); ok {
			return ai < bi
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// String renders the DN and every set field, one per line. Unprintable
// fields are included here but omitted from PrettyPrint.
func (n *Node) String() string {
	dn, _ := n.DN()
	var b strings.Builder
	fmt.Fprintf(&b, "DN: %s", dn)

	width := 0
	for _, name := range n.model.schema.order {
		if truthy(n.values[name]) && len(name) > width {
			width = len(name)
		}
	}
	width++

	for _, name := range n.model.schema.order {
		switch v := n.values[name].(type) {
		case nil:
		case []string:
			for _, item := range v {
				fmt.Fprintf(&b, "\n%*s: %s", width, name, item)
			}
		default:
			fmt.Fprintf(&b, "\n%*s: %v", width, name, v)
		}
	}
	return b.String()
}

// PrettyPrint renders the node for human consumption: unprintable fields
// are omitted, sensitive values masked, binary values reduced to a
// byte-count placeholder, and system fields listed last.
func (n *Node) PrettyPrint() string {
	schema := n.model.schema
	dn, _ := n.DN()
	var b strings.Builder
	fmt.Fprintf(&b, "DN: %s", dn)

	width := 0
	for _, name := range schema.order {
		if len(name) > width {
			width = len(name)
		}
	}
	width++
	lineLength := 79 - width - 1
	// The ANSI bold escapes around the name consume format width, so pad
	// the printed name to compensate.
	boldWidth := width + len(bolded(""))

	var names []string
	names = append(names, schema.nonSystem...)
	for _, name := range schema.order {
		if schema.fields[name].Info().System {
			names = append(names, name)
		}
	}

	for _, name := range names {
		f := schema.fields[name]
		val := n.values[name]
		if val == nil || !f.Info().Printable {
			continue
		}
		if _, isBinary := f.(*BinaryField); isBinary {
			raw, _ := val.([]byte)
			fmt.Fprintf(&b, "\n%*s: Binary (%d bytes)", boldWidth, bolded(name), len(raw))
			continue
		}
		switch v := val.(type) {
		case []string:
			if len(v) == 0 {
				continue
			}
			lines := strings.Split(printWordList(v, lineLength), "\n")
			fmt.Fprintf(&b, "\n%*s:%s", boldWidth, bolded(name), lines[0])
			for _, line := range lines[1:] {
				fmt.Fprintf(&b, "\n%s %s", strings.Repeat(" ", width), line)
			}
		default:
			fmt.Fprintf(&b, "\n%*s: %v", boldWidth, bolded(name), n.model.obscure(name, v))
		}
	}
	return b.String()
}

// FetchOptions parameterizes a single-entry fetch. Primary is the desired
// value of the primary identifying field; Args populate the primary
// DN-prefix template and may also carry the primary value under its field
// name. DNPrefix overrides prefix resolution entirely.
type FetchOptions struct {
	Primary  any
	DNPrefix string
	Args     map[string]any
}

// Fetch retrieves the unique entry whose primary field holds the given
// value, or nil when it does not exist. A non-unique result is a
// data-integrity warning, not an error, and also yields nil.
func (m *Model) Fetch(ctx context.Context, primary any) (*Node, error) {
	return m.FetchWith(ctx, FetchOptions{Primary: primary})
}

// FetchWith is Fetch with explicit prefix and template arguments.
func (m *Model) FetchWith(ctx context.Context, opts FetchOptions) (*Node, error) {
	entry, err := m.fetchEntry(ctx, opts)
	if err != nil || entry == nil {
		return nil, err
	}
	n, err := m.parseEntry(entry)
	if err != nil {
		return nil, err
	}
	m.logger().Debugw("loaded entry", "type", m.schema.name, "primary", n.DNAttr())
	return n, nil
}

func (m *Model) fetchEntry(ctx context.Context, opts FetchOptions) (*ldap.Entry, error) {
	if m.schema.primary == nil {
		return nil, &ArgumentError{Msg: fmt.Sprintf(
			"schema %s has no primary field", m.schema.name)}
	}
	args := stringifyArgs(opts.Args)

	primary := ""
	if opts.Primary != nil {
		primary = stringifyValue(opts.Primary)
	} else if v, ok := args[m.schema.primaryName]; ok {
		primary = v
	}

	dnprefix := opts.DNPrefix
	if dnprefix == "" {
		if len(args) > 0 {
			expanded, err := expandTemplate(m.schema.primaryDNPrefix, args)
			if err != nil {
				dnprefix = m.schema.secondaryDNPrefix
			} else {
				dnprefix = expanded
			}
		} else {
			dnprefix = m.schema.secondaryDNPrefix
		}
	}
	m.logger().Debugw("fetching", "type", m.schema.name, "primary", primary, "dnprefix", dnprefix)

	ocFilter, err := m.schema.ObjectClassFilter()
	if err != nil {
		return nil, err
	}
	filter := fmt.Sprintf("(&(%s=%s)%s)",
		m.schema.primary.Info().LDAP, ldap.EscapeFilter(primary), ocFilter)

	entries, err := m.dir.Search(ctx, m.searchBase(dnprefix), ScopeSubtree, filter, m.schema.AttrList())
	switch {
	case err == nil:
	case isNotFound(err):
		return nil, nil
	case isFilterError(err):
		m.logger().Warnw("unable to fetch: bad search filter",
			"type", m.schema.name, "primary", primary)
		return nil, nil
	default:
		return nil, err
	}

	// A fetch result must be unique to be usable.
	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		return entries[0], nil
	default:
		m.logger().Warnw("unable to fetch: result not unique",
			"type", m.schema.name, "primary", primary, "results", len(entries))
		return nil, nil
	}
}

func (m *Model) searchBase(dnprefix string) string {
	if dnprefix == "" {
		return m.dir.BaseDN()
	}
	return dnprefix + "," + m.dir.BaseDN()
}

// parseEntry turns a raw search result into a node.
func (m *Model) parseEntry(entry *ldap.Entry) (*Node, error) {
	values := make(map[string]any, len(m.schema.order))
	for _, name := range m.schema.order {
		values[name] = m.schema.fields[name].Populate(entry.DN, entry)
	}
	return m.New(values)
}

// ObjExists reports whether a fetch with the same options would find a
// unique entry.
func (m *Model) ObjExists(ctx context.Context, opts FetchOptions) bool {
	entry, err := m.fetchEntry(ctx, opts)
	return err == nil && entry != nil
}

// DNExists reports whether the DN names an existing entry.
func (m *Model) DNExists(ctx context.Context, dn string) bool {
	return m.dir.Exists(ctx, dn)
}

// FetchBy retrieves the first entry matching every attribute=value pair.
// Attribute names are wire names and are matched in sorted order. The
// options' Args or DNPrefix narrow the search base the way List does;
// Filter, RawFilter and MaxResults are ignored.
func (m *Model) FetchBy(ctx context.Context, attrs map[string]string, opts ListOptions) (*Node, error) {
	return m.fetchByOp(ctx, opAnd, attrs, opts)
}

func (m *Model) fetchByOp(ctx context.Context, op string, attrs map[string]string, opts ListOptions) (*Node, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	opts.Filter = nil
	opts.RawFilter = attrPairsFilter(op, attrs)
	opts.MaxResults = 1
	nodes, err := m.List(ctx, opts)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// FetchByDN retrieves the entry at a known DN. Malformed input yields nil
// rather than an error.
func (m *Model) FetchByDN(ctx context.Context, dn string) (*Node, error) {
	first, _, found := strings.Cut(dn, ",")
	if !found {
		return nil, nil
	}
	attr, value, ok := strings.Cut(first, "=")
	if !ok || attr == "" {
		return nil, nil
	}
	dnprefix, ok := middleDN(dn, ","+m.dir.BaseDN())
	if !ok {
		return nil, nil
	}
	nodes, err := m.List(ctx, ListOptions{
		RawFilter:  fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value)),
		DNPrefix:   dnprefix,
		MaxResults: 1,
	})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// ListOptions parameterizes a list. Every given constraint must be
// satisfied; DNPrefix and Args are mutually exclusive.
type ListOptions struct {
	// Filter restricts the list with a query expression compiled against
	// the model's schema.
	Filter *Q

	// RawFilter restricts the list with a ready-made filter string,
	// surrounding parentheses included.
	RawFilter string

	// Prefix keeps entries whose RDN starts with the string.
	Prefix string

	// RDNSubstring keeps entries whose RDN contains the substring.
	RDNSubstring string

	// SearchPrefix keeps entries where any searchable field matches the
	// term as a prefix.
	SearchPrefix string

	// SearchString keeps entries where any searchable field matches the
	// term as a substring.
	SearchString string

	// DNPrefix overrides prefix resolution; Args are then ignored.
	DNPrefix string

	// MaxResults truncates the result list; zero means no truncation.
	MaxResults int

	// Args populate the primary DN-prefix template.
	Args map[string]any
}

// List returns every entry of this type satisfying the options.
func (m *Model) List(ctx context.Context, opts ListOptions) ([]*Node, error) {
	args := stringifyArgs(opts.Args)

	dnprefix := opts.DNPrefix
	if dnprefix == "" {
		dnprefix = m.schema.secondaryDNPrefix
		if len(args) > 0 {
			if expanded, err := expandTemplate(m.schema.primaryDNPrefix, args); err == nil {
				dnprefix = expanded
			}
		}
	}
	m.logger().Debugw("listing", "type", m.schema.name, "dnprefix", dnprefix)

	filter, err := m.schema.ObjectClassFilter()
	if err != nil {
		return nil, err
	}

	raw := opts.RawFilter
	if opts.Filter != nil {
		compiled, err := opts.Filter.Compile(m.schema)
		if err != nil {
			return nil, err
		}
		raw = compiled
	}
	if raw != "" {
		filter = "(&" + filter + raw + ")"
	}

	if opts.Prefix != "" || opts.RDNSubstring != "" {
		if m.schema.primary == nil {
			return nil, &ArgumentError{Msg: fmt.Sprintf(
				"schema %s has no primary field", m.schema.name)}
		}
	}
	if opts.Prefix != "" {
		filter = fmt.Sprintf("(&%s(%s=%s*))",
			filter, m.schema.primary.Info().LDAP, ldap.EscapeFilter(opts.Prefix))
	}
	if opts.RDNSubstring != "" {
		filter = fmt.Sprintf("(&%s(%s=*%s*))",
			filter, m.schema.primary.Info().LDAP, ldap.EscapeFilter(opts.RDNSubstring))
	}
	if opts.SearchPrefix != "" {
		filter = fmt.Sprintf("(&%s%s)", filter, m.searchPrefixFilter(opts.SearchPrefix))
	}
	if opts.SearchString != "" {
		filter = fmt.Sprintf("(&%s%s)", filter, m.searchStringFilter(opts.SearchString))
	}

	entries, err := m.dir.Search(ctx, m.searchBase(dnprefix), ScopeSubtree, filter, m.schema.AttrList())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var nodes []*Node
	for _, entry := range entries {
		if opts.MaxResults > 0 && len(nodes) >= opts.MaxResults {
			break
		}
		n, err := m.parseEntry(entry)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ListBy returns the entries matching the intersection of the given
// attribute=value pairs.
func (m *Model) ListBy(ctx context.Context, attrs map[string]string, opts ListOptions) ([]*Node, error) {
	return m.listByOp(ctx, opAnd, attrs, opts)
}

// ListByUnion returns the entries matching any of the given
// attribute=value pairs.
func (m *Model) ListByUnion(ctx context.Context, attrs map[string]string, opts ListOptions) ([]*Node, error) {
	return m.listByOp(ctx, opOr, attrs, opts)
}

// ListByNegation returns the entries not matching the single given
// attribute=value pair. More than one pair is an ArgumentError.
func (m *Model) ListByNegation(ctx context.Context, attrs map[string]string, opts ListOptions) ([]*Node, error) {
	if len(attrs) != 1 {
		return nil, &ArgumentError{Msg: "only one attribute value pair supported"}
	}
	return m.listByOp(ctx, "!", attrs, opts)
}

func (m *Model) listByOp(ctx context.Context, op string, attrs map[string]string, opts ListOptions) ([]*Node, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	opts.Filter = nil
	opts.RawFilter = attrPairsFilter(op, attrs)
	return m.List(ctx, opts)
}

func attrPairsFilter(op string, attrs map[string]string) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(op)
	for _, attr := range sortedAttrKeys(attrs) {
		fmt.Fprintf(&b, "(%s=%s)", attr, ldap.EscapeFilter(attrs[attr]))
	}
	b.WriteString(")")
	return b.String()
}

func sortedAttrKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Model) searchPrefixFilter(term string) string {
	return m.searchableFilter(ldap.EscapeFilter(term), "(%s=%s*)")
}

func (m *Model) searchStringFilter(term string) string {
	term = ldap.EscapeFilter(term)
	templates := []string{"(%s=%s)", "(%s=%s*)", "(%s=*%s)", "(%s=*%s*)"}
	var b strings.Builder
	for _, tmpl := range templates {
		b.WriteString(m.searchableFilter(term, tmpl))
	}
	return "(|" + b.String() + ")"
}

func (m *Model) searchableFilter(term, tmpl string) string {
	var b strings.Builder
	for _, attr := range m.schema.searchableAttrs {
		fmt.Fprintf(&b, tmpl, attr, term)
	}
	return "(|" + b.String() + ")"
}

// Refetch returns a fresh copy of this node pulled from the directory, or
// nil when it no longer exists.
func (n *Node) Refetch(ctx context.Context) (*Node, error) {
	return n.model.FetchWith(ctx, FetchOptions{Args: n.DNAttrs()})
}

// Exists reports whether the node's DN names an existing entry.
func (n *Node) Exists(ctx context.Context) bool {
	dn, err := n.DN()
	if err != nil {
		return false
	}
	return n.model.dir.Exists(ctx, dn)
}

// Change is one differing field: the directory's value and the in-memory
// value, which read as (old, new) if the node is about to be saved.
type Change struct {
	Old any
	New any
}

// DiffOpts adjusts diff computation.
type DiffOpts struct {
	// WireNames keys the result by wire attribute name instead of field
	// name.
	WireNames bool

	// SkipPrivate omits fields whose name carries the leading "-"
	// exclusion marker.
	SkipPrivate bool
}

// Diff re-fetches this identity and returns the fields whose values differ
// between the directory and this node. When the directory copy does not
// exist every field reports a change from nil. Derived and system fields
// never appear, and superficially-empty values (empty string versus nil,
// empty list versus list of empty strings) compare equal.
func (n *Node) Diff(ctx context.Context) (map[string]Change, error) {
	return n.DiffWith(ctx, DiffOpts{})
}

// DiffWith is Diff with explicit options.
func (n *Node) DiffWith(ctx context.Context, opts DiffOpts) (map[string]Change, error) {
	refetch, err := n.Refetch(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Change)
	for _, name := range n.model.schema.nonSystem {
		f := n.model.schema.fields[name]
		if f.Derived() {
			continue
		}
		if opts.SkipPrivate && strings.HasPrefix(name, "-") {
			continue
		}

		selfVal := removeEmptyStrings(n.values[name])
		var refetchVal any
		if refetch != nil {
			refetchVal = removeEmptyStrings(refetch.values[name])
		}

		if !reflect.DeepEqual(selfVal, refetchVal) {
			key := name
			if opts.WireNames {
				key = f.Info().LDAP
			}
			results[key] = Change{Old: refetchVal, New: selfVal}
		}
	}
	return results, nil
}

// AttrDifferenceSinceLastSave returns the values of one list-valued field
// added and removed relative to the directory copy.
func (n *Node) AttrDifferenceSinceLastSave(ctx context.Context, name string) (added, removed []string, err error) {
	if n.model.schema.Field(name) == nil {
		return nil, nil, &ArgumentError{Msg: fmt.Sprintf("%s is not a valid attribute", name)}
	}
	diff, err := n.Diff(ctx)
	if err != nil {
		return nil, nil, err
	}
	change, ok := diff[name]
	if !ok {
		return nil, nil, nil
	}
	oldVals := toStringList(change.Old)
	newVals := toStringList(change.New)
	return setDifference(newVals, oldVals), setDifference(oldVals, newVals), nil
}

// AttrAddedSinceLastSave returns the list values present in memory but not
// in the directory.
func (n *Node) AttrAddedSinceLastSave(ctx context.Context, name string) ([]string, error) {
	added, _, err := n.AttrDifferenceSinceLastSave(ctx, name)
	return added, err
}

// AttrRemovedSinceLastSave returns the list values present in the
// directory but no longer in memory.
func (n *Node) AttrRemovedSinceLastSave(ctx context.Context, name string) ([]string, error) {
	_, removed, err := n.AttrDifferenceSinceLastSave(ctx, name)
	return removed, err
}

func setDifference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	var out []string
	for _, v := range a {
		if !inB[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Save persists the node. An existing entry receives only the minimal set
// of attribute operations its diff calls for; a new entry is created with
// a single add. Validation failure and ordinary transport failures are
// logged on the node's diagnostic channel without returning an error;
// domain conditions (no such DN, duplicate value) and structural errors
// propagate.
func (n *Node) Save(ctx context.Context) error {
	if n.model.Validate != nil && !n.model.Validate(n) {
		n.log.Errorf("%s %v did not pass validation.", n.hrn(), n.DNAttr())
		return nil
	}

	dn, err := n.DN()
	if err != nil {
		return err
	}
	if n.model.dir.Exists(ctx, dn) {
		return n.saveExisting(ctx, dn)
	}
	return n.saveNew(ctx, dn)
}

func (n *Node) saveExisting(ctx context.Context, dn string) error {
	diff, err := n.DiffWith(ctx, DiffOpts{SkipPrivate: true})
	if err != nil {
		return err
	}

	var errs error
	for _, name := range n.model.schema.order {
		change, ok := diff[name]
		if !ok {
			continue
		}
		f := n.model.schema.fields[name]
		attr := f.Info().LDAP

		wireVal, err := f.Sanitize(change.New)
		if err != nil {
			return err
		}

		switch {
		case len(wireVal) > 0 && change.New != nil:
			if truthy(change.Old) {
				ok, err := n.model.dir.ModifyAttr(ctx, dn, attr, wireVal)
				if err != nil {
					if isInvalidDN(err) {
						return err
					}
					errs = multierr.Append(errs, err)
					continue
				}
				if ok {
					n.logModifySuccess(name, change.Old, change.New)
				} else {
					n.log.Errorf("Failed to set %s to %v on %s %v",
						name, n.model.obscure(name, change.New), n.hrn(), n.DNAttr())
				}
			} else {
				ok, err := n.model.dir.AddAttr(ctx, dn, attr, wireVal)
				if err != nil {
					if isInvalidDN(err) {
						return err
					}
					errs = multierr.Append(errs, err)
					continue
				}
				if ok {
					n.log.Infof("Successfully added %s %v to %s %v",
						name, n.model.obscure(name, change.New), n.hrn(), n.DNAttr())
				} else {
					n.log.Infof("Failed to add %s %v to %s %v",
						name, n.model.obscure(name, change.New), n.hrn(), n.DNAttr())
				}
			}
		default:
			ok, err := n.model.dir.DeleteAttr(ctx, dn, attr, nil)
			if err != nil {
				if isInvalidDN(err) {
					return err
				}
				errs = multierr.Append(errs, err)
				continue
			}
			if ok {
				n.log.Infof("Successfully removed %s attribute from %s %v",
					name, n.hrn(), n.DNAttr())
			} else {
				n.log.Errorf("Failed to remove %s attribute from %s %v",
					name, n.hrn(), n.DNAttr())
			}
		}
	}
	return errs
}

func (n *Node) logModifySuccess(name string, oldVal, newVal any) {
	oldList, oldIsList := oldVal.([]string)
	newList, newIsList := newVal.([]string)
	if oldIsList && newIsList {
		if added := setDifference(newList, oldList); len(added) > 0 {
			n.log.Infof("Added %s %s to %s %v",
				name, strings.Join(added, ", "), n.hrn(), n.DNAttr())
		}
		if removed := setDifference(oldList, newList); len(removed) > 0 {
			n.log.Infof("Removed %s %s from %s %v",
				name, strings.Join(removed, ", "), n.hrn(), n.DNAttr())
		}
		return
	}
	n.log.Infof("Changed %s from %v to %v on %s %v",
		name, n.model.obscure(name, oldVal), n.model.obscure(name, newVal),
		n.hrn(), n.DNAttr())
}

func (n *Node) saveNew(ctx context.Context, dn string) error {
	if n.model.BeforeAdd != nil {
		n.model.BeforeAdd(n)
	}
	attrs, err := n.ldapEntry()
	if err != nil {
		return err
	}
	ok, err := n.model.dir.Add(ctx, dn, attrs)
	if err != nil {
		return err
	}
	if ok {
		if n.model.AfterAdd != nil {
			n.model.AfterAdd(n)
		}
		n.log.Infof("%s %v was added.", n.hrn(), n.DNAttr())
	} else {
		n.log.Errorf("Could not add %s %v.", n.hrn(), n.DNAttr())
	}
	return nil
}

// ldapEntry serializes the node into the attribute map for a directory
// add: the object classes plus every settable field's sanitized value.
// Derived fields, system fields and fields carrying the leading "-"
// exclusion marker are skipped.
func (n *Node) ldapEntry() (map[string][]string, error) {
	attrs := map[string][]string{
		"objectClass": n.model.schema.ObjectClasses(),
	}
	for _, name := range n.model.schema.nonSystem {
		f := n.model.schema.fields[name]
		if strings.HasPrefix(name, "-") || f.Derived() {
			continue
		}
		val := n.values[name]
		if val == nil {
			continue
		}
		wireVal, err := f.Sanitize(val)
		if err != nil {
			return nil, err
		}
		if len(wireVal) > 0 {
			attrs[f.Info().LDAP] = wireVal
		}
	}
	return attrs, nil
}

// Delete removes the node's entry from the directory. Ordinary transport
// failures are logged without returning an error; structural errors
// propagate.
func (n *Node) Delete(ctx context.Context) error {
	if n.model.BeforeDelete != nil {
		n.model.BeforeDelete(n)
	}
	dn, err := n.DN()
	if err != nil {
		return err
	}
	ok, err := n.model.dir.Delete(ctx, dn)
	if err != nil {
		return err
	}
	if ok {
		if n.model.AfterDelete != nil {
			n.model.AfterDelete(n)
		}
		n.log.Infof("%s %v was removed successfully.", n.hrn(), n.DNAttr())
	} else {
		n.log.Errorf("%s %v was not removed successfully.", n.hrn(), n.DNAttr())
	}
	return nil
}
