package ldapmap

import (
	"fmt"
	"strings"
)

// bolded wraps val in ANSI bold escapes for terminal output.
func bolded(val string) string {
	return "\033[1m" + val + "\033[0m"
}

// removeEmptyStrings normalizes superficially-empty values so that they
// compare equal: an empty string becomes nil, and empty strings are dropped
// from string slices. A list fetched as [] and set on the node as [""] must
// not be considered different.
func removeEmptyStrings(val any) any {
	switch v := val.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return v
	default:
		return val
	}
}

// toStringList coerces a value to a string slice by all means. Slices are
// copied, a scalar string becomes a one-element slice, and anything else
// yields an empty slice.
func toStringList(val any) []string {
	switch v := val.(type) {
	case []string:
		return append([]string{}, v...)
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return []string{}
	}
}

// buildFilter returns an LDAP filter grouping one equality subfilter per
// item under the given boolean operator, e.g.
// buildFilter("&", "objectClass", []string{"top", "person"}) returns
// "(&(objectClass=top)(objectClass=person))".
func buildFilter(op, attrname string, items []string) (string, error) {
	if len(items) == 0 {
		return "", &ArgumentError{Msg: "filter items list must not be empty"}
	}
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(op)
	for _, item := range items {
		fmt.Fprintf(&b, "(%s=%s)", attrname, item)
	}
	b.WriteString(")")
	return b.String(), nil
}

// printWordList renders words space-separated, wrapping at lineLength.
func printWordList(words []string, lineLength int) string {
	var b strings.Builder
	left := lineLength
	for _, word := range words {
		if left < len(word)+1 {
			b.WriteString("\n")
			left = lineLength
		}
		b.WriteString(" ")
		b.WriteString(word)
		left -= len(word) + 1
	}
	return b.String()
}

// truthy mirrors the emptiness rules the save path uses to pick between
// attribute add, replace and delete: nil, empty strings, empty slices and
// zero integers all count as absent.
func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case int:
		return v != 0
	case []string:
		return len(v) > 0
	case []byte:
		return len(v) > 0
	default:
		return true
	}
}

// stringifyValue renders a value for use inside a filter or DN template.
// Nodes contribute their primary field value.
func stringifyValue(val any) string {
	switch v := val.(type) {
	case *Node:
		return fmt.Sprint(v.DNAttr())
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// stringifyArgs renders every value of a keyword-argument map, turning Node
// values into their primary attribute value.
func stringifyArgs(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = stringifyValue(v)
	}
	return out
}
