// Package pipeline drives the per-request state machine:
// prime → cache lookup → cached-or-generate branch → present → compress →
// conditional cache insert → package → post. Post hooks run inside Serve,
// before the caller (internal/connection) writes the returned Result, and
// the pipe they receive discards what is written to it. Grounded on the
// phase-ordering contract in
// _examples/original_source/src/extensions.rs's resolve_prime/
// resolve_prepare/resolve_present/resolve_package/resolve_post, translated
// from the original's unsafe-pointer PresentData pattern into the explicit
// parameter passing internal/extensions already settled on.
package pipeline

import (
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/Iselk/kvarn/internal/cache"
	"github.com/Iselk/kvarn/internal/extensions"
	"github.com/Iselk/kvarn/internal/host"
	"github.com/Iselk/kvarn/internal/present"
	"github.com/Iselk/kvarn/pkg/kerr"
	"github.com/Iselk/kvarn/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracer emits one span per request around the pipeline's phases, mirroring
// middleware.go's Tracing() gin middleware (method/URL/request-id
// attributes), minus any exporter — no tracing backend is wired, so spans
// are bare otel/trace, never shipped anywhere.
var tracer = otel.Tracer("kvarn/pipeline")

// Result is the fully-packaged response a caller (the connection layer)
// writes to the wire.
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
	// Stream, if non-nil, must be run by the caller after the response has
	// been written and the connection closed.
	Stream func()
}

// Driver runs the pipeline for whichever Host each Serve call names,
// optionally counting response-cache hits and misses via M (nil disables
// metrics).
type Driver struct {
	Log *zap.Logger
	M   *metrics.Metrics
}

// New builds a Driver. log/m may be nil.
func New(log *zap.Logger, m *metrics.Metrics) *Driver {
	return &Driver{Log: log, M: m}
}

// Serve runs the full pipeline for req against h, originating from addr
// (nil for tests), with isTLS reflecting whether the connection carrying
// req is encrypted.
func (d *Driver) Serve(h *host.Host, req *http.Request, addr net.Addr, isTLS bool) (*Result, error) {
	ctx, span := tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("request.id", req.Header.Get("X-Request-Id")),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if err := validateRequestURI(req.URL.Path); err != nil {
		return d.errorResult(h, err), nil
	}
	if extensions.IsSentinelPath(req.URL.Path) {
		return d.errorResult(h, kerr.NotFoundf("sentinel path %q is not reachable from the network", req.URL.Path)), nil
	}

	sentinel, err := d.resolvePrime(h, req, addr, isTLS)
	if err != nil {
		return d.errorResult(h, err), nil
	}

	if sentinel != "" {
		return d.generate(h, req, addr, sentinel)
	}

	key := cache.PathQueryKey(req.URL.Path, req.URL.RawQuery)
	if cached, ok := h.ResponseCache.Get(key); ok {
		return d.serveCached(h, req, cached)
	}
	if altKey := cache.PathKey(req.URL.Path); altKey != key {
		if cached, ok := h.ResponseCache.Get(altKey); ok {
			return d.serveCached(h, req, cached)
		}
	}

	return d.generate(h, req, addr, "")
}

// resolvePrime runs the prime phase and returns the full sentinel path a
// returned override URI carries ("", if none fired). When the host's
// HTTPS redirect applies, its sentinel is returned at once and the user
// prime hooks are not run, since the redirect must win over any cache hit.
func (d *Driver) resolvePrime(h *host.Host, req *http.Request, addr net.Addr, isTLS bool) (string, error) {
	if u, ok := h.NeedsHTTPSRedirect(req, isTLS); ok {
		req.URL = u
		return u.Path, nil
	}

	override, err := h.Extensions.ResolvePrime(req, h, addr)
	if err != nil {
		return "", err
	}
	if override == nil {
		return "", nil
	}
	return override.Path, nil
}

// validateRequestURI rejects a request path before it reaches prime or any
// cache/file lookup: empty, "./"-prefixed, or "//"-prefixed paths are
// malformed request targets, not legitimate file references, and any ".."
// path segment is rejected as a traversal attempt. A literal "/./" or
// "/../" sentinel prefix is left to the caller's dedicated P7 check (a
// NotFound, not a BadRequest) rather than flagged here.
func validateRequestURI(path string) error {
	switch {
	case path == "":
		return kerr.BadRequestf("empty request path")
	case strings.HasPrefix(path, "./"):
		return kerr.BadRequestf("invalid request path %q", path)
	case strings.HasPrefix(path, "//"):
		return kerr.BadRequestf("invalid request path %q", path)
	}
	if extensions.IsSentinelPath(path) {
		return nil
	}
	if hasDotDotSegment(path) {
		return kerr.BadRequestf("invalid request path %q", path)
	}
	return nil
}

func hasDotDotSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// sentinelName strips a sentinel path's "/./" or "/../" prefix, yielding
// the bare name present_internal handlers are keyed by.
func sentinelName(path string) string {
	switch {
	case len(path) > 3 && path[:3] == "/./":
		return path[3:]
	case len(path) > 4 && path[:4] == "/../":
		return path[4:]
	default:
		return path
	}
}

// serveCached implements the CACHED branch: pick a representation, run
// package hooks fresh (they are request-dependent, e.g. CORS echo), write.
func (d *Driver) serveCached(h *host.Host, req *http.Request, cached *cache.CachedResponse) (*Result, error) {
	variant := cached.Resolve(func(axis string) string { return req.Header.Get(axis) })
	if variant == nil {
		return d.errorResult(h, kerr.New(kerr.NotAcceptable, "no cached representation satisfies request")), nil
	}
	resp, err := variant.Pick(acceptEncoding(req))
	if err != nil {
		return d.errorResult(h, err), nil
	}
	if d.M != nil {
		d.M.CacheHits.WithLabelValues("response").Inc()
	}
	return d.packageAndFinish(h, req, resp.Status, resp.Headers, resp.Body, nil)
}

// generate implements the GENERATE branch. sentinel, if non-empty, is
// routed by generateInternal (a prepare_single entry under the sentinel
// path, else a present_internal handler by bare name), bypassing the
// request-path prepare/file resolution.
func (d *Driver) generate(h *host.Host, req *http.Request, addr net.Addr, sentinel string) (*Result, error) {
	if d.M != nil {
		d.M.CacheMisses.WithLabelValues("response").Inc()
	}

	if sentinel != "" {
		return d.generateInternal(h, req, addr, sentinel)
	}
	if fn, ok := h.Extensions.ResolvePrepareSingle(req.URL.Path); ok {
		return d.generatePrepared(h, req, fn, req.URL.Path, addr, extensions.ServerCacheNone)
	}
	if fn, ok := h.Extensions.ResolvePrepareFn(req, h); ok {
		return d.generatePrepared(h, req, fn, req.URL.Path, addr, extensions.ServerCacheNone)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return d.errorResult(h, kerr.MethodNotAllowedf("method %s not allowed on static asset", req.Method)), nil
	}
	return d.generateFromFile(h, req)
}

// generateInternal routes a fired sentinel to its handler: a prepare_single
// entry registered under the sentinel's full path takes priority (the
// contract every sentinel-producing prime hook is documented to follow),
// falling back to a present_internal entry keyed by the sentinel's bare
// name (the CORS hooks use this form).
func (d *Driver) generateInternal(h *host.Host, req *http.Request, addr net.Addr, sentinel string) (*Result, error) {
	if fn, ok := h.Extensions.ResolvePrepareSingle(sentinel); ok {
		return d.generatePrepared(h, req, fn, sentinel, addr, extensions.ServerCacheNone)
	}

	name := sentinelName(sentinel)
	fn, ok := h.Extensions.ResolvePresentInternal(name)
	if !ok {
		return d.errorResult(h, kerr.NotFoundf("no internal handler named %q", name)), nil
	}
	head := &extensions.ResponseHead{Status: http.StatusOK, Headers: make(http.Header)}
	data := &extensions.PresentData{Request: req, Host: h, Path: sentinel, Head: head}
	if err := fn(data); err != nil {
		return d.errorResult(h, err), nil
	}
	return d.packageAndFinish(h, req, head.Status, head.Headers, data.Body, nil)
}

func (d *Driver) generatePrepared(h *host.Host, req *http.Request, fn extensions.PrepareFunc, path string, addr net.Addr, fallbackCache extensions.ServerCachePreference) (*Result, error) {
	prepared, err := fn(req, h, path, addr)
	if err != nil {
		return d.errorResult(h, err), nil
	}
	return d.finishPrepared(h, req, prepared)
}

// generateFromFile reads through the FileCache, parses an optional
// present-directive header, and dispatches to present_internal/
// present_file by directive/extension.
func (d *Driver) generateFromFile(h *host.Host, req *http.Request) (*Result, error) {
	fsPath := h.Path + req.URL.Path
	entry, err := h.FileCache.GetOrRead(fsPath, func() ([]byte, error) {
		return os.ReadFile(fsPath)
	})
	if err != nil {
		return d.errorResult(h, kerr.Wrap(kerr.NotFound, "reading "+req.URL.Path, err)), nil
	}

	directive, ok := present.Parse(entry.Bytes)
	body := entry.Bytes
	head := &extensions.ResponseHead{Status: http.StatusOK, Headers: make(http.Header)}
	clientCache := extensions.ClientCacheFull
	serverCache := extensions.ServerCacheFull
	data := &extensions.PresentData{
		Request:     req,
		Host:        h,
		Path:        req.URL.Path,
		Body:        directive.Body,
		ClientCache: &clientCache,
		ServerCache: &serverCache,
		Head:        head,
	}

	if ok {
		for _, g := range directive.Groups {
			data.Args = g.Args
			if fn, found := h.Extensions.ResolvePresentInternal(g.Name); found {
				if err := fn(data); err != nil {
					return d.errorResult(h, err), nil
				}
			}
		}
		body = data.Body
	} else if fn, found := h.Extensions.ResolvePresentFile(extOf(req.URL.Path)); found {
		if err := fn(data); err != nil {
			return d.errorResult(h, err), nil
		}
		body = data.Body
	}

	cr := cache.NewCompressedResponse(head.Status, head.Headers, body)
	resp, err := cr.Pick(acceptEncoding(req))
	if err != nil {
		return d.errorResult(h, err), nil
	}
	d.cacheResponse(h, req, serverCache, cr, resp)
	return d.packageAndFinish(h, req, resp.Status, resp.Headers, resp.Body, nil)
}

// acceptEncoding returns req's Accept-Encoding value, or "identity" when the
// header is absent — the same identity fallback CachedResponse.Resolve
// applies to the accept-encoding axis.
func acceptEncoding(req *http.Request) string {
	if v := req.Header.Get("Accept-Encoding"); v != "" {
		return v
	}
	return "identity"
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}

func (d *Driver) finishPrepared(h *host.Host, req *http.Request, prepared extensions.PreparedResponse) (*Result, error) {
	if prepared.Compress == extensions.CompressNone {
		return d.packageAndFinish(h, req, prepared.Status, prepared.Headers, prepared.Body, prepared.Stream)
	}
	cr := cache.NewCompressedResponse(prepared.Status, prepared.Headers, prepared.Body)
	resp, err := cr.Pick(acceptEncoding(req))
	if err != nil {
		return d.errorResult(h, err), nil
	}
	d.cacheResponse(h, req, prepared.ServerCache, cr, resp)
	return d.packageAndFinish(h, req, resp.Status, resp.Headers, resp.Body, prepared.Stream)
}

// cacheResponse inserts cr into h's ResponseCache as a Vary entry keyed on
// accept-encoding, tagged with the representation resp actually negotiated
// — a cold concurrent request for the same key and a different
// Accept-Encoding value appends a second variant to the same entry rather
// than replacing it. A rejected insert (incompatible entry, oversized
// value) is logged, never surfaced to the caller: the response has already
// been generated and is served regardless of whether it gets cached.
func (d *Driver) cacheResponse(h *host.Host, req *http.Request, sc extensions.ServerCachePreference, cr *cache.CompressedResponse, resp *cache.Response) {
	if !sc.Cacheable {
		return
	}
	key := cache.PathKey(req.URL.Path)
	if sc.QueryMatters {
		key = cache.PathQueryKey(req.URL.Path, req.URL.RawQuery)
	}
	encoding := resp.Headers.Get("Content-Encoding")
	if encoding == "" {
		encoding = "identity"
	}
	if err := h.ResponseCache.InsertVariant(key, []string{"accept-encoding"}, []string{encoding}, cr); err != nil {
		if d.Log != nil {
			d.Log.Warn("response cache insert rejected", zap.Error(err))
		}
	}
}

func (d *Driver) packageAndFinish(h *host.Host, req *http.Request, status int, headers http.Header, body []byte, stream func()) (*Result, error) {
	if headers == nil {
		headers = make(http.Header)
	}
	head := &extensions.ResponseHead{Status: status, Headers: headers}
	if err := h.Extensions.RunPackage(head, req, h); err != nil {
		return d.errorResult(h, err), nil
	}
	result := &Result{Status: head.Status, Headers: head.Headers, Body: body, Stream: stream}
	if err := h.Extensions.RunPost(req, h, discard{}, body, nil); err != nil {
		if d.Log != nil {
			d.Log.Warn("post hook error", zap.Error(err))
		}
	}
	return result, nil
}

func (d *Driver) errorResult(h *host.Host, err error) *Result {
	status := http.StatusInternalServerError
	var ke *kerr.Error
	if e, ok := err.(*kerr.Error); ok {
		ke = e
		status = e.StatusCode()
	}
	headers := make(http.Header)
	headers.Set("Content-Type", "text/html; charset=utf-8")
	headers.Set("Content-Encoding", "identity")
	message := ""
	if ke != nil {
		message = ke.Message
	}
	body := h.ErrorBody(status, message)
	if d.Log != nil {
		d.Log.Error("pipeline error", zap.Error(err), zap.String("host", h.HostName))
	}
	return &Result{Status: status, Headers: headers, Body: body}
}

// discard is the io.Writer every post hook receives as its pipe: the Driver
// has no access to the connection, so anything written to it is dropped and
// post hooks observe the body for side effects only. Error results do not
// run post hooks.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
