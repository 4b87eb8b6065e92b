package host

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iselk/kvarn/internal/extensions"
)

func TestNewHostDefaults(t *testing.T) {
	h := New("example.tld", "/srv/www", nil, nil)
	assert.Equal(t, "index.html", h.FolderDefault)
	assert.Equal(t, "html", h.ExtensionDefault)
	assert.False(t, h.IsSecure())
	assert.Equal(t, "example.tld", h.Name())
	assert.Equal(t, "/srv/www", h.Root())
}

func TestNeedsHTTPSRedirectOnlyWhenEnabledAndPlaintext(t *testing.T) {
	h := New("example.tld", "/srv/www", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/a/b", nil)

	_, needed := h.NeedsHTTPSRedirect(req, false)
	assert.False(t, needed, "redirect not enabled yet")

	h.EnableHTTPSRedirect()
	u, needed := h.NeedsHTTPSRedirect(req, false)
	require.True(t, needed)
	assert.Equal(t, sentinelHTTPSRedirect, u.Path)

	_, needed = h.NeedsHTTPSRedirect(req, true)
	assert.False(t, needed, "already TLS, no redirect needed")
}

func TestEnableHSTSSetsHeaderOnlyOverTLS(t *testing.T) {
	h := New("example.tld", "/srv/www", nil, nil)
	h.EnableHSTS()

	reqPlain := httptest.NewRequest(http.MethodGet, "http://example.tld/", nil)
	headPlain := &extensions.ResponseHead{Status: 200, Headers: make(http.Header)}
	require.NoError(t, h.Extensions.RunPackage(headPlain, reqPlain, h))
	assert.Empty(t, headPlain.Headers.Get("Strict-Transport-Security"))
}

func TestErrorBodyFallsBackToHardcoded(t *testing.T) {
	h := New("example.tld", "/nonexistent-root-xyz", nil, nil)
	body := h.ErrorBody(404, "")
	assert.Contains(t, string(body), "404")
	assert.Contains(t, string(body), "Not Found")
}
