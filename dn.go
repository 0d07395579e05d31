package ldapmap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// dnAttribute returns the value of the named attribute within a DN, or ""
// when the DN has no such component. Matching is case-insensitive on the
// attribute type, and escaped values are returned unescaped.
func dnAttribute(dn, attr string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		// Fall back to a naive split for values go-ldap refuses to parse.
		for _, rdn := range strings.Split(dn, ",") {
			if rest, ok := strings.CutPrefix(rdn, attr+"="); ok {
				return rest
			}
		}
		return ""
	}
	for _, rdn := range parsed.RDNs {
		for _, a := range rdn.Attributes {
			if strings.EqualFold(a.Type, attr) {
				return a.Value
			}
		}
	}
	return ""
}

// stripDNPath removes a leading and/or trailing DN fragment, matching
// case-insensitively.
func stripDNPath(dn, left, right string) string {
	if right != "" && len(dn) >= len(right) &&
		strings.EqualFold(dn[len(dn)-len(right):], right) {
		dn = dn[:len(dn)-len(right)]
	}
	if left != "" && len(dn) >= len(left) &&
		strings.EqualFold(dn[:len(left)], left) {
		dn = dn[len(left):]
	}
	return dn
}

// middleDN strips the first RDN component and the given right-hand fragment,
// returning whatever sits between them. The second return is false when the
// DN has no comma to split on.
func middleDN(dn, right string) (string, bool) {
	_, rest, found := strings.Cut(dn, ",")
	if !found {
		return "", false
	}
	return stripDNPath(rest, "", right), true
}

// escapeDNValue escapes special characters in a DN attribute value per
// RFC 4514: the characters , + " \ < > ; always, # only when leading,
// spaces only when leading or trailing, and NUL as \00.
func escapeDNValue(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	b.Grow(len(value) + 8)
	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '#':
			if i == 0 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case 0:
			b.WriteString("\\00")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
