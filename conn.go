package ldapmap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the settings for one directory connection.
type Config struct {
	// URI of the server, e.g. "ldaps://ldap.example.com".
	URI string

	// BaseDN of the directory tree.
	BaseDN string

	// BindDN identifies the account to bind as. A bare username with no
	// "=" or "@" is qualified as uid=<name>,ou=people,<BaseDN>. Leave
	// BindDN and Password empty for an anonymous session.
	BindDN   string
	Password string

	// CACertFile points at a PEM bundle to trust for TLS.
	CACertFile string

	Timeout time.Duration `default:"30s"`

	// Logger receives connection diagnostics. Nil disables them.
	Logger *zap.SugaredLogger
}

// Conn is a live directory session implementing Directory. It is a thin
// synchronous transport: one blocking round trip per operation, no pooling
// and no caching of directory state.
type Conn struct {
	cfg     Config
	conn    *ldap.Conn
	id      string // correlates log lines across operations
	boundDN string
	log     *zap.SugaredLogger
}

// Connect dials the configured server and binds. Empty credentials produce
// an anonymous session.
func Connect(cfg Config) (*Conn, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	opts := []ldap.DialOpt{}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", cfg.CACertFile)
		}
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    pool,
		}))
	}

	raw, err := ldap.DialURL(cfg.URI, opts...)
	if err != nil {
		return nil, err
	}
	raw.SetTimeout(cfg.Timeout)

	c := &Conn{
		cfg:  cfg,
		conn: raw,
		id:   uuid.NewString(),
		log:  log,
	}

	if cfg.BindDN == "" && cfg.Password == "" {
		err = raw.UnauthenticatedBind("")
	} else {
		err = raw.Bind(fullyQualifyDN(cfg.BindDN, cfg.BaseDN), cfg.Password)
	}
	if err != nil {
		raw.Close()
		return nil, err
	}

	c.boundDN, err = c.WhoAmI(context.Background())
	if err != nil {
		raw.Close()
		return nil, err
	}

	log.Debugw("directory bind successful",
		"conn_id", c.id, "uri", cfg.URI, "bound_dn", c.boundDN)
	return c, nil
}

// ConnectAnonymous dials the configured server with an anonymous bind.
func ConnectAnonymous(cfg Config) (*Conn, error) {
	cfg.BindDN = ""
	cfg.Password = ""
	return Connect(cfg)
}

// fullyQualifyDN turns a bare username into a people-container DN. Values
// already containing "=" or "@" pass through untouched.
func fullyQualifyDN(bindDN, baseDN string) string {
	if strings.ContainsAny(bindDN, "=@") {
		return bindDN
	}
	return fmt.Sprintf("uid=%s,ou=people,%s", bindDN, baseDN)
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// BaseDN returns the base DN of the directory tree.
func (c *Conn) BaseDN() string {
	return c.cfg.BaseDN
}

// IsAnonymous reports whether this session is unauthenticated.
func (c *Conn) IsAnonymous() bool {
	return c.boundDN == ""
}

// String identifies the connection for diagnostics.
func (c *Conn) String() string {
	who := c.boundDN
	if who == "" {
		who = "anonymous"
	}
	return c.cfg.URI + " as " + who
}

// WhoAmI returns the DN bound to this session, or "" for an anonymous
// bind. Both dn: and u: authorization forms are unwrapped.
func (c *Conn) WhoAmI(ctx context.Context) (string, error) {
	result, err := c.conn.WhoAmI(nil)
	if err != nil {
		return "", err
	}
	return parseAuthzID(result.AuthzID), nil
}

// WhoAmIShort returns the value of the bound DN's leading RDN, or "" for
// an anonymous session.
func (c *Conn) WhoAmIShort(ctx context.Context) (string, error) {
	dn, err := c.WhoAmI(ctx)
	if err != nil || dn == "" {
		return "", err
	}
	first, _, _ := strings.Cut(dn, ",")
	_, value, _ := strings.Cut(first, "=")
	return value, nil
}

func parseAuthzID(authzID string) string {
	if rest, ok := strings.CutPrefix(authzID, "dn:"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(authzID, "u:"); ok {
		return rest
	}
	return ""
}

func goScope(scope Scope) int {
	switch scope {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOne:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// Search performs one search round trip.
//
// Connections can go stale when the server restarts. If the session is
// anonymous and the server cannot be contacted, a fresh anonymous session
// is created and the search retried exactly once; a second failure
// propagates. Authenticated sessions never retry.
func (c *Conn) Search(ctx context.Context, base string, scope Scope, filter string, attrs []string) ([]*ldap.Entry, error) {
	c.log.Debugw("searching",
		"conn_id", c.id, "base", base, "scope", scope.String(), "filter", filter)

	req := ldap.NewSearchRequest(
		base, goScope(scope), ldap.NeverDerefAliases,
		0, int(c.cfg.Timeout.Seconds()), false,
		filter, attrs, nil,
	)

	result, err := c.conn.Search(req)
	if err == nil {
		return result.Entries, nil
	}
	if !isUnreachable(err) {
		return nil, err
	}

	c.log.Errorw("could not contact the directory service",
		"conn_id", c.id, "uri", c.cfg.URI, "error", err.Error())
	if !c.IsAnonymous() {
		return nil, err
	}

	c.log.Warnw("recreating a fresh anonymous session", "conn_id", c.id)
	fresh, dialErr := ConnectAnonymous(c.cfg)
	if dialErr != nil {
		return nil, dialErr
	}

	// Intentionally not recursive: a failure on the fresh session
	// propagates.
	result, err = fresh.conn.Search(req)
	if err != nil {
		fresh.Close()
		return nil, err
	}

	c.conn.Close()
	c.conn = fresh.conn
	c.id = fresh.id
	c.boundDN = fresh.boundDN
	return result.Entries, nil
}

// Exists reports whether dn names an existing entry. A malformed DN
// reports false rather than failing.
func (c *Conn) Exists(ctx context.Context, dn string) bool {
	if _, err := ldap.ParseDN(dn); err != nil {
		return false
	}
	_, err := c.Search(ctx, dn, ScopeBase, "(objectClass=*)", []string{"1.1"})
	if err != nil {
		if !isNotFound(err) {
			c.log.Debugw("existence check failed",
				"conn_id", c.id, "dn", dn, "error", err.Error())
		}
		return false
	}
	return true
}

// Add creates the entry at dn. A missing parent container surfaces as an
// AddFailedError and invalid DN syntax propagates; other transport
// failures are logged and report false.
func (c *Conn) Add(ctx context.Context, dn string, attrs map[string][]string) (bool, error) {
	req := ldap.NewAddRequest(dn, nil)
	for _, attr := range sortedKeys(attrs) {
		req.Attribute(attr, attrs[attr])
	}

	err := c.conn.Add(req)
	switch {
	case err == nil:
		c.log.Debugw("add", "conn_id", c.id, "dn", dn)
		return true, nil
	case isInvalidDN(err):
		return false, err
	case isNotFound(err):
		return false, &AddFailedError{DN: dn, Cause: err}
	default:
		c.log.Errorw("add failed", "conn_id", c.id, "dn", dn, "error", err.Error())
		return false, nil
	}
}

// ModifyAttr replaces every value of one attribute on dn.
func (c *Conn) ModifyAttr(ctx context.Context, dn, attr string, values []string) (bool, error) {
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace(attr, values)
	return c.applyModify(ctx, "mod attr", req, dn, attr, values)
}

// AddAttr adds values to one attribute on dn.
func (c *Conn) AddAttr(ctx context.Context, dn, attr string, values []string) (bool, error) {
	req := ldap.NewModifyRequest(dn, nil)
	req.Add(attr, values)
	return c.applyModify(ctx, "add attr", req, dn, attr, values)
}

// DeleteAttr removes the given values of one attribute on dn, or the whole
// attribute when values is empty.
func (c *Conn) DeleteAttr(ctx context.Context, dn, attr string, values []string) (bool, error) {
	req := ldap.NewModifyRequest(dn, nil)
	if values == nil {
		values = []string{}
	}
	req.Delete(attr, values)

	err := c.conn.Modify(req)
	switch {
	case err == nil:
		c.log.Debugw("del attr", "conn_id", c.id, "dn", dn, "attr", attr)
		return true, nil
	case isInvalidDN(err):
		return false, err
	case isNotFound(err):
		return false, &NoSuchDNError{DN: dn}
	case isNoSuchAttribute(err):
		return false, &NoSuchAttrValueError{DN: dn, Attr: attr, Values: values}
	default:
		c.log.Errorw("del attr failed",
			"conn_id", c.id, "dn", dn, "attr", attr, "error", err.Error())
		return false, nil
	}
}

func (c *Conn) applyModify(ctx context.Context, op string, req *ldap.ModifyRequest, dn, attr string, values []string) (bool, error) {
	err := c.conn.Modify(req)
	switch {
	case err == nil:
		c.log.Debugw(op, "conn_id", c.id, "dn", dn, "attr", attr)
		return true, nil
	case isInvalidDN(err):
		return false, err
	case isNotFound(err):
		return false, &NoSuchDNError{DN: dn}
	case isDuplicateValue(err):
		return false, &DuplicateValueError{Attr: attr, Values: values}
	default:
		c.log.Errorw(op+" failed",
			"conn_id", c.id, "dn", dn, "attr", attr, "error", err.Error())
		return false, nil
	}
}

// Delete removes the entry at dn. Transport failures are logged and report
// false.
func (c *Conn) Delete(ctx context.Context, dn string) (bool, error) {
	err := c.conn.Del(ldap.NewDelRequest(dn, nil))
	switch {
	case err == nil:
		c.log.Debugw("delete", "conn_id", c.id, "dn", dn)
		return true, nil
	case isInvalidDN(err):
		return false, err
	default:
		c.log.Errorw("delete failed", "conn_id", c.id, "dn", dn, "error", err.Error())
		return false, nil
	}
}

// LDIF returns a flat text rendering of every entry under the base DN
// matching the filter.
func (c *Conn) LDIF(ctx context.Context, filter string) (string, error) {
	entries, err := c.Search(ctx, c.cfg.BaseDN, ScopeSubtree, filter, nil)
	if err != nil {
		return "", err
	}
	c.log.Infow("ldif dump", "conn_id", c.id, "filter", filter, "entries", len(entries))

	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(strings.Repeat("-", 72) + "\n")
		fmt.Fprintf(&b, "DN: %s\n", entry.DN)
		width := 0
		for _, attr := range entry.Attributes {
			if len(attr.Name) > width {
				width = len(attr.Name)
			}
		}
		width++
		for _, attr := range entry.Attributes {
			for _, val := range attr.Values {
				fmt.Fprintf(&b, "%*s: %s\n", width, attr.Name, val)
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
