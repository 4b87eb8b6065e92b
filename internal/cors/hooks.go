package cors

import (
	"net"
	"net/http"
	"net/url"

	"github.com/Iselk/kvarn/internal/extensions"
)

// Sentinel internal-route names the prime hooks below redirect denied/
// pre-flight requests to. These are resolved by the pipeline via
// ResolvePresentInternal, never served from disk or reachable by an
// attacker crafting a literal "/./cors_fail" request path — the prime
// hook is the only place that produces them, ResolvePrime holds a sentinel
// aside as an override instead of applying it to req.URL, and the pipeline
// answers a literal sentinel request path with 404.
const (
	SentinelFail    = "cors_fail"
	SentinelOptions = "cors_options"
)

// hardcodedCorsFailBody is adopted verbatim from extensions.rs's CORS
// denial response (403 "CORS request denied").
const hardcodedCorsFailBody = "CORS request denied"

// ReqSchemeFunc reports the scheme ("http" or "https") the server considers
// itself to be serving the given request over, used for same-origin checks.
type ReqSchemeFunc func(req *http.Request) string

// Register wires c's classification into e's prime/package phases at the
// fixed priorities extensions.rs pins for CORS (16_777_216, 16_777_215,
// -1024), and registers the two internal sentinel handlers those prime
// hooks redirect to.
func Register(e *extensions.Extensions, c *Cors, scheme ReqSchemeFunc) error {
	if err := e.AddPrime(extensions.NewId(extensions.PriorityCORSFail, "cors-fail"),
		func(req *http.Request, _ extensions.HostInfo, _ net.Addr) (*url.URL, error) {
			class, _ := c.Classify(req, scheme(req))
			if class != Denied {
				return nil, nil
			}
			u := *req.URL
			u.Path = "/./" + SentinelFail
			return &u, nil
		}); err != nil {
		return err
	}

	if err := e.AddPrime(extensions.NewId(extensions.PriorityCORSPreflight, "cors-preflight"),
		func(req *http.Request, _ extensions.HostInfo, _ net.Addr) (*url.URL, error) {
			if req.Method != http.MethodOptions || req.Header.Get("Access-Control-Request-Method") == "" {
				return nil, nil
			}
			class, _ := c.Classify(req, scheme(req))
			if class != AllowedCrossOrigin {
				return nil, nil
			}
			u := *req.URL
			u.Path = "/./" + SentinelOptions
			return &u, nil
		}); err != nil {
		return err
	}

	if err := e.AddPackage(extensions.NewId(extensions.PriorityCORSEcho, "cors-echo"),
		func(head *extensions.ResponseHead, req *http.Request, _ extensions.HostInfo) error {
			class, list := c.Classify(req, scheme(req))
			if class != AllowedCrossOrigin {
				return nil
			}
			head.Headers.Set("Access-Control-Allow-Origin", req.Header.Get("Origin"))
			if len(list.Methods()) > 0 {
				head.Headers.Set("Access-Control-Allow-Methods", joinComma(list.Methods()))
			}
			if len(list.Headers()) > 0 {
				head.Headers.Set("Access-Control-Allow-Headers", joinComma(list.Headers()))
			}
			appendVary(head.Headers, "Origin")
			return nil
		}); err != nil {
		return err
	}

	e.AddPresentInternal(SentinelFail, func(data *extensions.PresentData) error {
		data.Head.Status = http.StatusForbidden
		data.Head.Headers.Set("Content-Type", "text/plain; charset=utf-8")
		data.Body = []byte(hardcodedCorsFailBody)
		return nil
	})

	e.AddPresentInternal(SentinelOptions, func(data *extensions.PresentData) error {
		data.Head.Status = http.StatusNoContent
		data.Body = nil
		return nil
	})

	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}

func appendVary(h http.Header, value string) {
	existing := h.Values("Vary")
	for _, v := range existing {
		if v == value {
			return
		}
	}
	h.Add("Vary", value)
}
