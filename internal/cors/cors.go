// Package cors implements the allow-list rule engine and request
// classification state machine, grounded on
// _examples/original_source/src/extensions.rs's Cors/CorsAllowList
// (allow/check_origin/check_cors_request/is_part_of_origin) — including
// the exact priority constants (16_777_216, 16_777_215, -1024) pinned
// there for the three cooperating prime/package hooks.
package cors

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CorsAllowList is one rule's allowed origins/methods/headers.
// Methods defaults to {GET, HEAD, OPTIONS}.
type CorsAllowList struct {
	origins         []string
	allowAllOrigins bool
	methods         map[string]bool
	headers         []string
}

// NewAllowList builds an allow list with the default method set.
func NewAllowList() *CorsAllowList {
	return &CorsAllowList{
		methods: map[string]bool{"GET": true, "HEAD": true, "OPTIONS": true},
	}
}

func (l *CorsAllowList) AddOrigin(origin string) *CorsAllowList {
	l.origins = append(l.origins, origin)
	return l
}

func (l *CorsAllowList) AllowAllOrigins() *CorsAllowList {
	l.allowAllOrigins = true
	return l
}

func (l *CorsAllowList) AddMethod(method string) *CorsAllowList {
	if l.methods == nil {
		l.methods = map[string]bool{}
	}
	l.methods[strings.ToUpper(method)] = true
	return l
}

func (l *CorsAllowList) AddHeader(header string) *CorsAllowList {
	l.headers = append(l.headers, header)
	return l
}

// Methods returns the rule's allowed methods in a stable, sorted order
// (for building the Access-Control-Allow-Methods header value).
func (l *CorsAllowList) Methods() []string {
	out := make([]string, 0, len(l.methods))
	for m := range l.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (l *CorsAllowList) Headers() []string { return append([]string(nil), l.headers...) }

// check reports whether origin is permitted by this rule: allow-all, or an
// exact scheme+host+port match against a registered origin (default
// scheme "https" when a registered origin string omits one).
func (l *CorsAllowList) check(origin string) bool {
	if l.allowAllOrigins {
		return true
	}
	reqAuthority, ok := authorityOf(origin, "")
	if !ok {
		return false
	}
	for _, o := range l.origins {
		allowedAuthority, ok := authorityOf(o, "https")
		if ok && allowedAuthority == reqAuthority {
			return true
		}
	}
	return false
}

func authorityOf(raw, defaultScheme string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	return scheme + "://" + u.Host, true
}

type rule struct {
	pattern string
	list    *CorsAllowList
}

// Cors is the ordered list of (path pattern, CorsAllowList) rules: exact
// matches before prefix matches, longest first within each group, stable
// on original insertion order otherwise.
type Cors struct {
	rules []rule
}

// New builds an empty rule set.
func New() *Cors { return &Cors{} }

// Allow registers a rule. Patterns ending in "*" match as a prefix; all
// others match exactly.
func (c *Cors) Allow(pattern string, list *CorsAllowList) {
	c.rules = append(c.rules, rule{pattern: pattern, list: list})
	sort.SliceStable(c.rules, func(i, j int) bool {
		pi, li := rank(c.rules[i].pattern)
		pj, lj := rank(c.rules[j].pattern)
		if pi != pj {
			return !pi // exact (pi=false) sorts before prefix (pi=true)
		}
		return li > lj // longest first
	})
}

func rank(pattern string) (isPrefix bool, length int) {
	if strings.HasSuffix(pattern, "*") {
		return true, len(strings.TrimSuffix(pattern, "*"))
	}
	return false, len(pattern)
}

func matches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == path
}

// findRule returns the first rule (in sort order) whose pattern matches
// path.
func (c *Cors) findRule(path string) *CorsAllowList {
	for _, r := range c.rules {
		if matches(r.pattern, path) {
			return r.list
		}
	}
	return nil
}

// Classification is the outcome of classifying a request's origin.
type Classification int

const (
	SameOrigin Classification = iota
	AllowedCrossOrigin
	Denied
)

// Classify implements the request-origin classification state machine.
// The request's own origin is reqScheme (e.g. "https", from the TLS state)
// plus r.Host (e.g. "example.tld:443", the Host header) as seen by the
// server.
func (c *Cors) Classify(r *http.Request, reqScheme string) (Classification, *CorsAllowList) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return SameOrigin, nil
	}
	if isPartOfOrigin(origin, reqScheme, r.Host) {
		return SameOrigin, nil
	}

	list := c.findRule(r.URL.Path)
	if list == nil {
		return Denied, nil
	}
	if list.check(origin) {
		return AllowedCrossOrigin, list
	}
	return Denied, nil
}

// isPartOfOrigin reports whether origin's scheme+authority matches the
// request's own scheme+host, per extensions.rs's is_part_of_origin.
func isPartOfOrigin(origin, reqScheme, reqHost string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = reqScheme
	}
	return scheme == reqScheme && u.Host == reqHost
}
