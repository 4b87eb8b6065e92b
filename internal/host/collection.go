package host

import (
	"crypto/tls"
	"encoding/hex"
	"net/http"

	"golang.org/x/crypto/blake2b"
)

// Collection resolves an inbound connection/request to a Host, grounded
// on host.rs's HostData: a mandatory default plus a by-name map, SNI (or
// Host header) resolution falling back to the default, and the bulk admin
// operations clear_response_caches/clear_page/clear_file_caches/
// clear_file_in_cache.
type Collection struct {
	defaultHost *Host
	byName      map[string]*Host
	hasSecure   bool
}

// NewCollection builds a collection whose fallback host is defaultHost.
func NewCollection(defaultHost *Host) *Collection {
	return &Collection{
		defaultHost: defaultHost,
		byName:      make(map[string]*Host),
		hasSecure:   defaultHost.IsSecure(),
	}
}

// Add registers an additional named host.
func (c *Collection) Add(h *Host) {
	if h.IsSecure() {
		c.hasSecure = true
	}
	c.byName[h.HostName] = h
}

// Default returns the fallback host.
func (c *Collection) Default() *Host { return c.defaultHost }

// Get looks up a host by exact name.
func (c *Collection) Get(name string) (*Host, bool) {
	h, ok := c.byName[name]
	return h, ok
}

// GetOrDefault returns the named host, or the default if absent or empty.
func (c *Collection) GetOrDefault(name string) *Host {
	if name == "" {
		return c.defaultHost
	}
	if h, ok := c.byName[name]; ok {
		return h
	}
	return c.defaultHost
}

// SmartGet resolves the host for req: SNI hostname takes priority over
// the Host header, grounded on host.rs's smart_get.
func (c *Collection) SmartGet(req *http.Request, sniHostname string) *Host {
	if sniHostname != "" {
		return c.GetOrDefault(sniHostname)
	}
	return c.GetOrDefault(req.Host)
}

// HasSecure reports whether any host in the collection carries a TLS
// identity. The connection layer does not consult it; each port's TLS
// setting comes from its PortDescriptor.
func (c *Collection) HasSecure() bool { return c.hasSecure }

// ResolveCert implements the server-cert resolution host.rs delegates to
// rustls's ResolvesServerCert: a named host without its own certificate is
// unreachable over TLS, even though the default host has one — it never
// falls back to the default host's identity.
func (c *Collection) ResolveCert(sniHostname string) *tls.Certificate {
	if sniHostname == "" {
		return c.defaultHost.Certificate
	}
	if h, ok := c.byName[sniHostname]; ok {
		return h.Certificate
	}
	return nil
}

// CertFingerprint returns a short blake2b digest of a certificate's leaf
// DER bytes, for correlating which identity a TLS handshake picked in logs
// without printing the certificate itself.
func CertFingerprint(cert *tls.Certificate) string {
	if cert == nil || len(cert.Certificate) == 0 {
		return ""
	}
	sum := blake2b.Sum256(cert.Certificate[0])
	return hex.EncodeToString(sum[:8])
}

// ClearResponseCaches empties every host's response cache.
func (c *Collection) ClearResponseCaches() {
	c.defaultHost.ResponseCache.Clear()
	for _, h := range c.byName {
		h.ResponseCache.Clear()
	}
}

// ClearPage removes one cached response (all Vary variants) by path from
// the named host's response cache ("" or "default" means the default
// host). Returns (hostFound, entryCleared).
func (c *Collection) ClearPage(hostName, path string) (found, cleared bool) {
	h := c.hostForAdmin(hostName)
	if h == nil {
		return false, false
	}
	before := h.ResponseCache.Len()
	h.ResponseCache.RemoveByPath(path)
	return true, h.ResponseCache.Len() < before
}

func (c *Collection) hostForAdmin(hostName string) *Host {
	if hostName == "" || hostName == "default" {
		return c.defaultHost
	}
	h, ok := c.byName[hostName]
	if !ok {
		return nil
	}
	return h
}

// ClearFileCaches empties every host's file cache.
func (c *Collection) ClearFileCaches() {
	c.defaultHost.FileCache.Clear()
	for _, h := range c.byName {
		h.FileCache.Clear()
	}
}

// ClearFileInCache removes one path from every host's file cache, per
// host.rs's clear_file_in_cache (it is not scoped to a single host there).
func (c *Collection) ClearFileInCache(path string) (found bool) {
	if _, ok := c.defaultHost.FileCache.Get(path); ok {
		found = true
	}
	c.defaultHost.FileCache.Remove(path)
	for _, h := range c.byName {
		if _, ok := h.FileCache.Get(path); ok {
			found = true
		}
		h.FileCache.Remove(path)
	}
	return found
}
