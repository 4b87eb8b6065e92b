package connection

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iselk/kvarn/internal/host"
	"github.com/Iselk/kvarn/internal/pipeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.html"), []byte("hi"), 0o644))
	h := host.New("example.tld", dir, nil, nil)
	coll := host.NewCollection(h)
	return New(coll, pipeline.New(nil, nil), nil)
}

func TestServeHTTPWritesExplicitContentLength(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("Content-Length"))
	assert.Empty(t, w.Header().Get("Transfer-Encoding"))
}

func TestServeHTTPSetsRequestIDAndServerHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/hello.html", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Contains(t, w.Header().Get("Server"), "Kvarn/")
}

func TestIsWebSocketUpgradeDetectsHeaderPair(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/ws", nil)
	assert.False(t, isWebSocketUpgrade(req))

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	assert.True(t, isWebSocketUpgrade(req))
}

func TestIsWebSocketUpgradeRejectsPartialHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.tld/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	assert.False(t, isWebSocketUpgrade(req))
}
