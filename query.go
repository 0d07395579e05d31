package ldapmap

import (
	"strings"
)

// Cond is one field=value equality condition. Field is the in-memory field
// name; compilation resolves it to the wire attribute name through the
// target schema.
//
// Value passes into the compiled filter verbatim so that wildcard
// expressions like "li*" can be written; a caller matching a literal value
// that contains filter metacharacters must escape it with
// ldap.EscapeFilter first. Every other search surface (Fetch, FetchBy,
// prefix and substring listing) escapes its inputs itself.
type Cond struct {
	Field string
	Value string
}

const (
	opAnd = "&"
	opOr  = "|"
)

// Q is a composable boolean filter expression: either a leaf holding one or
// more equality conditions, or an AND/OR group of child expressions.
// Combining expressions with And and Or never nests deeper than the
// operator structure requires: successive same-operator combinations
// flatten into a single group.
type Q struct {
	op    string // "" for a leaf, opAnd or opOr for a group
	conds []Cond // leaf conditions
	kids  []*Q   // group children
	err   error  // deferred misuse, surfaced at Compile
}

// Where builds a leaf expression from equality conditions. A leaf with more
// than one condition compiles wrapped in its own AND group.
func Where(conds ...Cond) *Q {
	return &Q{conds: conds}
}

// Eq builds a single-condition leaf.
func Eq(field, value string) *Q {
	return Where(Cond{Field: field, Value: value})
}

// And combines two expressions under AND, flattening same-operator
// operands into one group.
func (q *Q) And(other *Q) *Q {
	return combine(opAnd, q, other)
}

// Or combines two expressions under OR, flattening same-operator operands
// into one group.
func (q *Q) Or(other *Q) *Q {
	return combine(opOr, q, other)
}

func combine(op string, a, b *Q) *Q {
	if a == nil || b == nil {
		return &Q{err: &QueryError{Msg: "cannot combine with a nil query expression"}}
	}
	if a.err != nil {
		return a
	}
	if b.err != nil {
		return b
	}
	kids := make([]*Q, 0, len(a.kids)+len(b.kids))
	kids = append(kids, expand(op, a)...)
	kids = append(kids, expand(op, b)...)
	return &Q{op: op, kids: kids}
}

// expand yields q's children when q is a group of the same operator, so the
// merge flattens instead of nesting. Leaves and opposite-operator groups
// stay intact as single children.
func expand(op string, q *Q) []*Q {
	if q.op == op {
		return q.kids
	}
	return []*Q{q}
}

// Compile renders the expression into the directory's parenthesized
// prefix-operator filter grammar, resolving each condition's field name to
// its wire attribute through the schema. Referencing an undeclared field
// fails with a QueryError naming the valid fields.
func (q *Q) Compile(schema *Schema) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	if q.op == "" {
		return compileLeaf(q, schema)
	}
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(q.op)
	for _, kid := range q.kids {
		part, err := kid.Compile(schema)
		if err != nil {
			return "", err
		}
		b.WriteString(part)
	}
	b.WriteString(")")
	return b.String(), nil
}

func compileLeaf(q *Q, schema *Schema) (string, error) {
	if len(q.conds) == 0 {
		return "", &QueryError{Msg: "query expression has no conditions"}
	}
	var b strings.Builder
	for _, cond := range q.conds {
		field := schema.Field(cond.Field)
		if field == nil {
			return "", &QueryError{Field: cond.Field, Valid: schema.FieldNames()}
		}
		b.WriteString("(")
		b.WriteString(field.Info().LDAP)
		b.WriteString("=")
		b.WriteString(cond.Value)
		b.WriteString(")")
	}
	if len(q.conds) > 1 {
		return "(&" + b.String() + ")", nil
	}
	return b.String(), nil
}
