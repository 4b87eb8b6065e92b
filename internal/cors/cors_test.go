package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(t *testing.T, path, origin, host string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	r.Host = host
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestClassifySameOriginWhenOriginHeaderAbsent(t *testing.T) {
	c := New()
	class, _ := c.Classify(req(t, "/api/x", "", "example.tld"), "https")
	assert.Equal(t, SameOrigin, class)
}

func TestClassifySameOriginWhenOriginMatchesHost(t *testing.T) {
	c := New()
	class, _ := c.Classify(req(t, "/api/x", "https://example.tld", "example.tld"), "https")
	assert.Equal(t, SameOrigin, class)
}

func TestClassifyDeniedWithoutMatchingRule(t *testing.T) {
	c := New()
	class, _ := c.Classify(req(t, "/api/x", "https://evil.tld", "example.tld"), "https")
	assert.Equal(t, Denied, class)
}

func TestClassifyAllowedCrossOrigin(t *testing.T) {
	c := New()
	list := NewAllowList().AddOrigin("https://trusted.tld")
	c.Allow("/api/*", list)

	class, got := c.Classify(req(t, "/api/x", "https://trusted.tld", "example.tld"), "https")
	require.Equal(t, AllowedCrossOrigin, class)
	require.NotNil(t, got)
	assert.True(t, got.check("https://trusted.tld"))
}

func TestAllowListDefaultMethods(t *testing.T) {
	l := NewAllowList()
	assert.Equal(t, []string{"GET", "HEAD", "OPTIONS"}, l.Methods())
}

func TestRuleOrderingExactBeforePrefixLongestFirst(t *testing.T) {
	c := New()
	c.Allow("/api/*", NewAllowList())
	c.Allow("/api/v2/*", NewAllowList())
	c.Allow("/api/v2/exact", NewAllowList())

	require.Len(t, c.rules, 3)
	assert.Equal(t, "/api/v2/exact", c.rules[0].pattern)
	assert.Equal(t, "/api/v2/*", c.rules[1].pattern)
	assert.Equal(t, "/api/*", c.rules[2].pattern)
}

func TestAllowAllOrigins(t *testing.T) {
	l := NewAllowList().AllowAllOrigins()
	assert.True(t, l.check("https://anything.tld"))
}
