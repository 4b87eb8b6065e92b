// Package host implements the virtual-host multiplexing layer: a Host
// bundles a document root, TLS identity, its own Extensions registry and
// pair of caches; a HostCollection resolves an inbound connection/request
// to one Host by SNI or Host header, falling back to a configured
// default. Grounded on _examples/original_source/src/host.rs's
// Host/HostData.
package host

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Iselk/kvarn/internal/cache"
	"github.com/Iselk/kvarn/internal/extensions"
)

// sentinelHTTPSRedirect is the internal prepare_single path host.rs pins
// for its HTTPS redirect target, adopted verbatim so the sentinel-URI
// convention threaded through internal/extensions stays consistent.
const sentinelHTTPSRedirect = "/../to_https"

// Host is one virtual host: a document root, optional TLS identity, its
// own extension registry, and its own file/response caches — two hosts
// never share cache entries.
type Host struct {
	HostName         string
	Path             string
	Certificate      *tls.Certificate
	Extensions       *extensions.Extensions
	FileCache        *cache.FileCache
	ResponseCache    *cache.ResponseCache
	FolderDefault    string
	ExtensionDefault string

	httpsRedirect bool
	hsts          bool
	webSocketEcho bool
}

// New builds a Host rooted at path, with fresh caches and an empty
// extension registry. cert may be nil for a plaintext-only host.
func New(hostName, path string, cert *tls.Certificate, ext *extensions.Extensions) *Host {
	if ext == nil {
		ext = extensions.New()
	}
	return &Host{
		HostName:         hostName,
		Path:             path,
		Certificate:      cert,
		Extensions:       ext,
		FileCache:        cache.NewFileCache(1024, 16*1024), // 16KiB, per host.rs's with_size_limit(16 * 1024)
		ResponseCache:    cache.NewResponseCache(1024, 4<<20),
		FolderDefault:    "index.html",
		ExtensionDefault: "html",
	}
}

// Name implements extensions.HostInfo.
func (h *Host) Name() string { return h.HostName }

// Root implements extensions.HostInfo.
func (h *Host) Root() string { return h.Path }

// IsSecure reports whether the host has a TLS identity (host.rs's
// is_secure).
func (h *Host) IsSecure() bool { return h.Certificate != nil }

// EnableHTTPSRedirect registers the prepare_single sentinel handler that
// redirects plaintext HTTP requests to HTTPS on the same authority, and
// turns on NeedsHTTPSRedirect, which the pipeline's prime step consults to
// route such requests to it. Grounded on host.rs's
// set_http_redirect_to_https.
func (h *Host) EnableHTTPSRedirect() {
	if h.httpsRedirect {
		return
	}
	h.httpsRedirect = true

	h.Extensions.AddPrepareSingle(sentinelHTTPSRedirect, func(req *http.Request, _ extensions.HostInfo, _ string, _ net.Addr) (extensions.PreparedResponse, error) {
		authority := req.URL.Query().Get("authority")
		path := req.URL.Query().Get("path")
		location := "https://" + authority + path
		if query := req.URL.Query().Get("query"); query != "" {
			location += "?" + query
		}
		headers := make(http.Header)
		headers.Set("Location", location)
		return extensions.PreparedResponse{
			Status:      http.StatusTemporaryRedirect,
			Headers:     headers,
			ClientCache: extensions.ClientCacheFull,
			ServerCache: extensions.ServerCacheNone,
			Compress:    extensions.CompressNone,
		}, nil
	})
}

// httpsRedirectURL builds the sentinel redirect URL a prime hook should
// return for a plaintext request, carrying the original authority/path/
// query through as query parameters since PrepareFunc only receives the
// rewritten *url.URL, not the original request, at lookup time.
func httpsRedirectURL(req *http.Request) *url.URL {
	q := url.Values{}
	q.Set("authority", req.Host)
	q.Set("path", req.URL.Path)
	if req.URL.RawQuery != "" {
		q.Set("query", req.URL.RawQuery)
	}
	return &url.URL{Path: sentinelHTTPSRedirect, RawQuery: q.Encode()}
}

// NeedsHTTPSRedirect reports whether req arrived over plaintext HTTP on a
// host that has EnableHTTPSRedirect active, and if so returns the sentinel
// override URL a prime hook should install.
func (h *Host) NeedsHTTPSRedirect(req *http.Request, isTLS bool) (*url.URL, bool) {
	if !h.httpsRedirect || isTLS {
		return nil, false
	}
	return httpsRedirectURL(req), true
}

// EnableHSTS registers the package hook that sets
// Strict-Transport-Security on HTTPS responses only, if absent — grounded
// on host.rs's enable_hsts, value adopted verbatim.
func (h *Host) EnableHSTS() {
	if h.hsts {
		return
	}
	h.hsts = true
	h.Extensions.AddPackage(extensions.NewId(0, "hsts"), func(head *extensions.ResponseHead, req *http.Request, _ extensions.HostInfo) error {
		if req.TLS == nil {
			return nil
		}
		if head.Headers.Get("Strict-Transport-Security") == "" {
			head.Headers.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		}
		return nil
	})
}

// EnableWebSocketEcho marks the host as accepting Upgrade: websocket
// requests at the transport layer, bypassing the extension pipeline
// entirely — grounded on hotreload.LiveReloadServer, which likewise runs
// its own websocket.Upgrader outside the main request path.
func (h *Host) EnableWebSocketEcho() { h.webSocketEcho = true }

// WebSocketEchoEnabled reports the state EnableWebSocketEcho sets.
func (h *Host) WebSocketEchoEnabled() bool { return h.webSocketEcho }

// errorsSubpath builds "<Path>/errors/<code>.html" the way
// utility.rs's make_path does.
func (h *Host) errorsSubpath(code int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(h.Path, "/"))
	b.WriteString("/errors/")
	b.WriteString(httpStatusDigits(code))
	b.WriteString(".html")
	return b.String()
}

func httpStatusDigits(code int) string {
	const digits = "0123456789"
	if code <= 0 {
		return "0"
	}
	out := [3]byte{}
	for i := 2; i >= 0 && code > 0; i-- {
		out[i] = digits[code%10]
		code /= 10
	}
	return string(out[:])
}
