package extensions

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Default hook priorities, adopted verbatim from
// _examples/original_source/src/extensions.rs so that ordering against
// user-registered hooks at the same priorities is reproducible.
const (
	PriorityURIRedirect   int32 = -100
	PriorityNoReferrer    int32 = 10
	PriorityCORSFail      int32 = 16_777_216
	PriorityCORSPreflight int32 = 16_777_215
	PriorityCORSEcho      int32 = -1024
)

// DefaultHostConfig carries the per-host defaults the URI-redirect hook
// consults.
type DefaultHostConfig struct {
	FolderDefault    string
	ExtensionDefault string
}

// AddURIRedirect registers the default folder/extension redirect prime
// hook at priority -100: a path ending in "/" gets FolderDefault appended;
// a path ending in "." gets ExtensionDefault appended. Grounded on
// extensions.rs's add_uri_redirect.
func (e *Extensions) AddURIRedirect(cfg DefaultHostConfig) error {
	folderDefault := cfg.FolderDefault
	if folderDefault == "" {
		folderDefault = "index.html"
	}
	extensionDefault := cfg.ExtensionDefault
	if extensionDefault == "" {
		extensionDefault = "html"
	}

	return e.AddPrime(NewId(PriorityURIRedirect, "default-uri-redirect"), func(req *http.Request, _ HostInfo, _ net.Addr) (*url.URL, error) {
		newPath, changed := uriEndsRedirect(req.URL.Path, folderDefault, extensionDefault)
		if !changed {
			return nil, nil
		}
		u := *req.URL
		u.Path = newPath
		return &u, nil
	})
}

// AddNoReferrer registers the default `referrer-policy: no-referrer`
// package hook at priority 10, set only if absent. Grounded on
// extensions.rs's add_no_referrer.
func (e *Extensions) AddNoReferrer() error {
	return e.AddPackage(NewId(PriorityNoReferrer, "default-no-referrer"), func(head *ResponseHead, _ *http.Request, _ HostInfo) error {
		if head.Headers.Get("Referrer-Policy") == "" {
			head.Headers.Set("Referrer-Policy", "no-referrer")
		}
		return nil
	})
}

// uriEndsRedirect is the pure logic behind AddURIRedirect, factored out so
// it can be unit tested without a net.Addr.
func uriEndsRedirect(path, folderDefault, extensionDefault string) (string, bool) {
	switch {
	case strings.HasSuffix(path, "/"):
		return path + folderDefault, true
	case strings.HasSuffix(path, "."):
		return path + extensionDefault, true
	default:
		return path, false
	}
}
