package pipeline

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iselk/kvarn/internal/cache"
	"github.com/Iselk/kvarn/internal/extensions"
	"github.com/Iselk/kvarn/internal/host"
)

func newTestHost(t *testing.T) *host.Host {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.html"), []byte("<h1>hi</h1>"), 0o644))
	return host.New("example.tld", dir, nil, nil)
}

func TestServeFromFileCache(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, []byte("<h1>hi</h1>"), result.Body)
}

func TestServeMissingFileReturns404(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/missing.html", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
}

func TestServeUsesPrepareSingleHandler(t *testing.T) {
	h := newTestHost(t)
	h.Extensions.AddPrepareSingle("/api/ping", func(req *http.Request, hi extensions.HostInfo, path string, addr net.Addr) (extensions.PreparedResponse, error) {
		return extensions.PreparedResponse{
			Status:   http.StatusOK,
			Headers:  http.Header{"Content-Type": {"text/plain"}},
			Body:     []byte("pong"),
			Compress: extensions.CompressNone,
		}, nil
	})

	d := New(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/api/ping", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), result.Body)
}

func TestServeCachesSecondRequestAsHit(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req1 := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	_, err := d.Serve(h, req1, nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, h.ResponseCache.Len())

	req2 := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	result, err := d.Serve(h, req2, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("<h1>hi</h1>"), result.Body)
}

func TestServeRedirectsPlaintextWhenHTTPSRedirectEnabled(t *testing.T) {
	h := newTestHost(t)
	h.EnableHTTPSRedirect()
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	require.Equal(t, http.StatusTemporaryRedirect, result.Status)
	assert.Equal(t, "https://example.tld/hello.html", result.Headers.Get("Location"))
}

func TestServeDoesNotRedirectOverTLSWhenHTTPSRedirectEnabled(t *testing.T) {
	h := newTestHost(t)
	h.EnableHTTPSRedirect()
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	result, err := d.Serve(h, req, nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, []byte("<h1>hi</h1>"), result.Body)
}

func TestServeRejectsPathTraversal(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/assets/../../etc/passwd", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, result.Status)
}

// A request path literally prefixed "/../" or "/./" is the internal sentinel
// form itself, not merely a traversal attempt buried deeper in the path, so
// it takes the dedicated P7 NotFound rather than the generic BadRequest.
func TestServeRejectsLiteralSentinelPrefixedPath(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/../../etc/passwd", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
}

func TestServeRejectsLiteralSentinelPath(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/./cors_fail", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
}

func TestServeRejectsNonGetOnStaticAsset(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "http://example.tld/hello.html", nil)
	result, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, result.Status)
}

func TestServeGeneratesVaryEntryKeyedOnAcceptEncoding(t *testing.T) {
	h := newTestHost(t)
	d := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	_, err := d.Serve(h, req, nil, false)
	require.NoError(t, err)

	cached, ok := h.ResponseCache.Get(cache.PathKey("/hello.html"))
	require.True(t, ok)
	assert.False(t, cached.IsSingle(), "production inserts should be Vary-partitioned on accept-encoding, not Single")
}
