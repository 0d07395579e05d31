// Package ldapmap maps typed Go schemas onto LDAP directory entries.
//
// A Schema declares the fields of one kind of directory entry: each field
// pairs an in-memory name with a wire attribute name and a typed converter
// between the two representations. A Model binds a Schema to a Directory
// transport and provides fetch, list and search operations. A Node is one
// directory entry materialized through its schema; it derives its DN from
// its identifying field values, computes diffs against the live directory,
// and persists itself with the minimal set of modify operations.
//
// Search filters are built with the Q algebra, which compiles composable
// AND/OR condition trees into the textual LDAP filter grammar with minimal
// nesting.
package ldapmap
