package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/Iselk/kvarn/pkg/kerr"
)

// hopByHopHeaders must never survive into a CompressedResponse's clean
// header set. Grounded on http_middleware.go's isHopByHopHeader list
// (RFC 7230 §6.1).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// exemptApplicationSubtypes are the application/* subtypes (xml, json, pdf,
// javascript, graphql) that isAlreadyCompressedContentType does not treat as
// already compressed. Every other application/* type, and image/*, audio/*
// and video/*, counts as already compressed, where re-compressing wastes CPU
// for no size win.
var exemptApplicationSubtypes = map[string]bool{
	"xml": true, "json": true, "pdf": true, "javascript": true, "graphql": true,
}

func isAlreadyCompressedContentType(contentType string) bool {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	switch {
	case strings.HasPrefix(ct, "image/"), strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"):
		return true
	case strings.HasPrefix(ct, "application/"):
		subtype := strings.TrimPrefix(ct, "application/")
		if idx := strings.Index(subtype, "+"); idx >= 0 {
			subtype = subtype[idx+1:]
		}
		return !exemptApplicationSubtypes[subtype]
	default:
		return false
	}
}

// Response is the wire-ready representation returned by
// CompressedResponse.Pick: a status, a header set with content-length
// already set and content-encoding set for a compressed body (absent for
// identity), and the (possibly compressed) body.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// CompressedResponse holds one immutable identity representation plus
// lazily generated br/gzip siblings. Compression of a given (entry,
// algorithm) pair happens at most once even under concurrent Pick calls,
// via a singleflight.Group rather than an ad-hoc mutex-guarded map.
type CompressedResponse struct {
	Status   int
	Headers  http.Header // clean: no content-length, no hop-by-hop
	Identity []byte

	mu       sync.RWMutex
	siblings map[string][]byte
	sf       singleflight.Group
}

// NewCompressedResponse builds a CompressedResponse from a status, an
// arbitrary header set (hop-by-hop headers and content-length are
// stripped), and the identity body.
func NewCompressedResponse(status int, headers http.Header, identity []byte) *CompressedResponse {
	clean := make(http.Header, len(headers))
	for k, v := range headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		if http.CanonicalHeaderKey(k) == "Content-Length" {
			continue
		}
		clean[k] = append([]string(nil), v...)
	}
	return &CompressedResponse{
		Status:   status,
		Headers:  clean,
		Identity: identity,
		siblings: make(map[string][]byte),
	}
}

// Pick negotiates the best representation for the given Accept-Encoding
// header value.
func (cr *CompressedResponse) Pick(acceptEncoding string) (*Response, error) {
	requested := parseQList(acceptEncoding)

	contentType := cr.Headers.Get("Content-Type")
	var order []string
	if isAlreadyCompressedContentType(contentType) {
		order = []string{"identity", "br", "gzip"}
	} else {
		order = []string{"br", "gzip", "identity"}
	}

	var chosen string
	for _, alg := range order {
		if requested.prohibited(alg) {
			continue
		}
		if !requested.allows(alg) {
			continue
		}
		chosen = alg
		break
	}
	if chosen == "" {
		return nil, kerr.NotAcceptablef("no acceptable content-encoding in %q", acceptEncoding)
	}

	body, err := cr.bodyFor(chosen)
	if err != nil {
		return nil, kerr.InternalIOf(err, "compress representation %s", chosen)
	}

	headers := make(http.Header, len(cr.Headers)+2)
	for k, v := range cr.Headers {
		headers[k] = append([]string(nil), v...)
	}
	if chosen == "identity" {
		headers.Del("Content-Encoding")
	} else {
		headers.Set("Content-Encoding", chosen)
	}
	headers.Set("Content-Length", strconv.Itoa(len(body)))
	existingVary := headers.Values("Vary")
	if !containsFold(existingVary, "accept-encoding") {
		headers.Add("Vary", "Accept-Encoding")
	}

	return &Response{Status: cr.Status, Headers: headers, Body: body}, nil
}

// bodyFor returns the identity body, or a lazily-generated compressed
// sibling, single-flighted per algorithm so concurrent Pick calls for the
// same cold (entry, algorithm) pair compress exactly once.
func (cr *CompressedResponse) bodyFor(alg string) ([]byte, error) {
	if alg == "identity" {
		return cr.Identity, nil
	}

	cr.mu.RLock()
	if b, ok := cr.siblings[alg]; ok {
		cr.mu.RUnlock()
		return b, nil
	}
	cr.mu.RUnlock()

	v, err, _ := cr.sf.Do(alg, func() (interface{}, error) {
		cr.mu.RLock()
		if b, ok := cr.siblings[alg]; ok {
			cr.mu.RUnlock()
			return b, nil
		}
		cr.mu.RUnlock()

		b, err := compress(alg, cr.Identity)
		if err != nil {
			return nil, err
		}
		cr.mu.Lock()
		cr.siblings[alg] = b
		cr.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func compress(alg string, identity []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch alg {
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(identity); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(identity); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, io.ErrUnexpectedEOF
	}
	return buf.Bytes(), nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
