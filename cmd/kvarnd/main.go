// Command kvarnd is a thin example binary wiring config → logger → hosts →
// extensions → pipeline → connection listeners. The core exposes a library
// API; this CLI is a minimal caller, not a scope boundary — grounded on
// _examples/pageza-alchemorsel-enterprise/cmd/web/main.go's
// config.Load → logger.New → server.Start/Shutdown shape, with the fx
// dependency-injection container and health-check subsystem dropped (see
// DESIGN.md) since this binary wires four components, not a microservice.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Iselk/kvarn/internal/config"
	"github.com/Iselk/kvarn/internal/connection"
	"github.com/Iselk/kvarn/internal/extensions"
	"github.com/Iselk/kvarn/internal/host"
	"github.com/Iselk/kvarn/internal/pipeline"
	"github.com/Iselk/kvarn/pkg/logger"
	"github.com/Iselk/kvarn/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kvarnd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New(prometheus.NewRegistry())

	hosts, err := buildHosts(cfg)
	if err != nil {
		return fmt.Errorf("building hosts: %w", err)
	}

	driver := pipeline.New(log, m)

	var ports []connection.PortDescriptor
	for _, p := range cfg.Ports {
		ports = append(ports, connection.PortDescriptor{Port: p.Port, TLS: p.TLS})
	}
	srv := connection.New(hosts, driver, ports)
	srv.Log = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info("kvarnd started", zap.Int("port_count", len(ports)), zap.String("environment", cfg.App.Environment))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildHosts(cfg *config.Config) (*host.Collection, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("no hosts configured")
	}

	var defaultHost *host.Host
	var coll *host.Collection
	for i, hc := range cfg.Hosts {
		var cert *tls.Certificate
		if hc.CertFile != "" && hc.KeyFile != "" {
			loaded, err := tls.LoadX509KeyPair(hc.CertFile, hc.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("loading certificate for host %q: %w", hc.Name, err)
			}
			cert = &loaded
		}

		ext := extensions.New()
		if err := ext.AddURIRedirect(extensions.DefaultHostConfig{
			FolderDefault:    hc.FolderDefault,
			ExtensionDefault: hc.ExtensionDefault,
		}); err != nil {
			return nil, err
		}
		if err := ext.AddNoReferrer(); err != nil {
			return nil, err
		}

		h := host.New(hc.Name, hc.Path, cert, ext)
		if hc.FolderDefault != "" {
			h.FolderDefault = hc.FolderDefault
		}
		if hc.ExtensionDefault != "" {
			h.ExtensionDefault = hc.ExtensionDefault
		}
		if hc.HTTPSRedirect {
			h.EnableHTTPSRedirect()
		}
		if hc.HSTS {
			h.EnableHSTS()
		}

		if i == 0 {
			defaultHost = h
			coll = host.NewCollection(defaultHost)
		} else {
			coll.Add(h)
		}
	}
	return coll, nil
}
