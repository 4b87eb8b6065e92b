// Package connection wires the pipeline driver to actual TCP/TLS
// listeners: ALPN negotiation between HTTP/2 and HTTP/1.1, content-length/
// transfer-encoding correctness on every write, and 505 on an
// unrecognized protocol. Grounded on
// _examples/pageza-alchemorsel-enterprise's
// internal/infrastructure/http/server/server.go (`http2.ConfigureServer`
// + `ListenAndServe`/`Shutdown(ctx)`), generalized from that repo's single
// chi.Mux listener to multiple PortDescriptors each multiplexing several
// Hosts.
package connection

import (
	"context"
	"crypto/tls"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/Iselk/kvarn/internal/host"
	"github.com/Iselk/kvarn/internal/pipeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// PortDescriptor names one listening port and whether it terminates TLS.
type PortDescriptor struct {
	Port int
	TLS  bool
}

// Server owns one *http.Server per PortDescriptor, all sharing the same
// host Collection and pipeline Driver: one or more ports, each
// multiplexing the same set of hosts.
type Server struct {
	Hosts   *host.Collection
	Driver  *pipeline.Driver
	Log     *zap.Logger
	descs   []PortDescriptor
	servers []*http.Server
}

// New builds a Server for the given ports.
func New(hosts *host.Collection, driver *pipeline.Driver, descs []PortDescriptor) *Server {
	return &Server{Hosts: hosts, Driver: driver, descs: descs}
}

// ListenAndServe starts every configured port's listener; it returns nil
// once every one has stopped (normally, via Shutdown), or the first error
// a listener fails with.
func (s *Server) ListenAndServe() error {
	errCh := make(chan error, len(s.descs))
	for _, d := range s.descs {
		srv := s.buildServer(d)
		s.servers = append(s.servers, srv)
		go func(d PortDescriptor, srv *http.Server) {
			var err error
			if d.TLS {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err == http.ErrServerClosed {
				err = nil
			}
			errCh <- err
		}(d, srv)
	}
	for range s.descs {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) buildServer(d PortDescriptor) *http.Server {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(d.Port),
		Handler:           s,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	if d.TLS {
		srv.TLSConfig = &tls.Config{
			GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
				cert := s.Hosts.ResolveCert(hello.ServerName)
				if cert == nil {
					return nil, errNoCertificate{hello.ServerName}
				}
				if s.Log != nil {
					s.Log.Debug("tls handshake",
						zap.String("sni", hello.ServerName),
						zap.String("cert_fingerprint", host.CertFingerprint(cert)),
					)
				}
				return cert, nil
			},
			NextProtos: []string{"h2", "http/1.1"},
		}
		// Multiple virtual hosts share a single port here; ConfigureServer
		// still needs to run once per *http.Server to register h2's ALPN
		// handler.
		if err := http2.ConfigureServer(srv, nil); err != nil {
			_ = err // best-effort: plain HTTP/1.1 still works without it
		}
	}
	return srv
}

type errNoCertificate struct{ sni string }

func (e errNoCertificate) Error() string {
	return "connection: no certificate configured for SNI name " + e.sni
}

// ServeHTTP implements http.Handler: resolve the virtual host, run the
// pipeline, write the result with a correctly-set Content-Length — no
// response is written with both Content-Length and Transfer-Encoding:
// chunked, and no response omits a length entirely unless the handler
// explicitly streams.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sni := ""
	if req.TLS != nil && req.TLS.ServerName != "" {
		sni = req.TLS.ServerName
	}
	h := s.Hosts.SmartGet(req, sni)

	if isWebSocketUpgrade(req) && h.WebSocketEchoEnabled() {
		serveWebSocketEcho(w, req)
		return
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	result, err := s.Driver.Serve(h, req, remoteAddr(req), req.TLS != nil)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	for k, vs := range result.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("Content-Length", strconv.Itoa(len(result.Body)))
	header.Del("Transfer-Encoding")
	header.Set("Server", "Kvarn/0.1 ("+goos()+")")
	header.Set("X-Request-Id", requestID)

	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)

	if result.Stream != nil {
		go result.Stream()
	}
}

// Shutdown gracefully stops every listening port.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func remoteAddr(req *http.Request) *netAddrShim {
	return &netAddrShim{addr: req.RemoteAddr}
}

// netAddrShim adapts http.Request.RemoteAddr (a string) to net.Addr, since
// the stdlib HTTP server does not expose the underlying net.Conn to
// handlers.
type netAddrShim struct{ addr string }

func (a *netAddrShim) Network() string { return "tcp" }
func (a *netAddrShim) String() string  { return a.addr }

func goos() string { return runtime.GOOS }
