// quicproxy - QUIC-fronted HTTP reverse proxy
// Main entry point for the proxy application
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"quicproxy/internal/config"
	"quicproxy/internal/fetcher"
	"quicproxy/internal/logging"
	"quicproxy/internal/metrics"
	"quicproxy/internal/quictransport"
	"quicproxy/internal/stats"
	"quicproxy/internal/translator"
)

var (
	version   = "v0.1.0"
	buildTime = "unknown"
	gitHash   = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "quicproxy",
		Short: "quicproxy - QUIC-fronted HTTP reverse proxy",
		Long: `quicproxy terminates TLS-over-QUIC connections and forwards each
request to a single fixed backend origin (proxy_pass), with optional
pattern-based URL rewriting applied before the backend is addressed.`,
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitHash),
		Run:     runProxy,
	}

	rootCmd.Flags().StringP("config", "c", "", "configuration file path")
	rootCmd.Flags().String("proxy-pass", "", "backend origin to proxy requests to, e.g. https://backend.internal:8443")
	rootCmd.Flags().String("listen-addr", "", "QUIC listen address")
	rootCmd.Flags().Int("listen-port", 0, "QUIC listen port")
	rootCmd.Flags().String("admin-addr", "", "admin/metrics listen address")
	rootCmd.Flags().Int("admin-port", 0, "admin/metrics listen port")
	rootCmd.Flags().String("tls-cert", "", "TLS certificate path (self-signed if unset)")
	rootCmd.Flags().String("tls-key", "", "TLS key path (self-signed if unset)")
	rootCmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("using-http2", true, "advertise HTTP/2 to the backend fetcher")
	rootCmd.Flags().Bool("using-quic", true, "accept QUIC connections from clients")
	rootCmd.Flags().Bool("using-spdy", false, "deprecated, folded into using-http2")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runProxy(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cmd)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.SyslogEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	cfg.ResolveSPDY(logger)

	logger.Info("starting quicproxy",
		"version", version,
		"proxy_pass", cfg.ProxyPass,
		"listen_addr", cfg.GetListenAddress(),
		"admin_addr", cfg.GetAdminAddress(),
		"capabilities", cfg.Capabilities(),
	)

	rewriter, err := cfg.Rewriter()
	if err != nil {
		logger.Error("failed to compile rewrite rules", "error", err)
		os.Exit(1)
	}

	translatorCfg := translator.Config{
		ProxyPassOrigin:     cfg.ProxyPass,
		Rewriter:            rewriter,
		RewriteBeforeRebase: cfg.RewriteBeforeRebase,
	}

	acc := stats.New()
	registry := fetcher.NewRegistry(backendClient(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promMetrics := metrics.NewPrometheusMetrics("quicproxy")

	quicCfg := quictransport.Config{
		BindAddr:            cfg.ListenAddr,
		Port:                cfg.ListenPort,
		CertFile:            cfg.TLSCertPath,
		KeyFile:             cfg.TLSKeyPath,
		MaxIdleTimeout:      cfg.MaxIdleTimeout(),
		HandshakeTimeout:    cfg.HandshakeTimeout(),
		MaxIncomingStreams:  cfg.MaxIncomingStreams,
		KeepAlivePeriod:     cfg.MaxIdleTimeout() / 2,
		StreamDeadline:      cfg.StreamDeadline(),
		MaxRequestBodyBytes: 32 << 20,
	}
	quicServer := quictransport.NewServer(quicCfg, registry, translatorCfg, acc, logger)

	quicErrCh := make(chan error, 1)
	go func() {
		quicErrCh <- quicServer.ListenAndServe(ctx)
	}()

	var adminServer *http.Server
	if cfg.EnableMetrics {
		adminServer = newAdminServer(cfg.GetAdminAddress(), promMetrics, acc)
		go func() {
			logger.Info("admin server started", "addr", cfg.GetAdminAddress())
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-quicErrCh:
		if err != nil {
			logger.Error("quic listener exited", "error", err)
		}
	}

	cancel()
	registry.CancelAll()
	if err := quicServer.Close(); err != nil {
		logger.Warn("error closing quic listener", "error", err)
	}
	if adminServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down admin server", "error", err)
		}
	}

	logger.Info("quicproxy shutdown complete")
}

// backendClient builds the http.Client the fetcher uses to talk to the
// backend origin. Redirects are never followed on the backend's behalf
// (spec.md §4.2): the client surfaces the 3xx response to the proxy stream,
// which returns it to the QUIC client unchanged.
//
// When using_http2 is set, the transport is upgraded to also negotiate
// HTTP/2 with the backend over TLS (h2) rather than only ever speaking
// HTTP/1.1, the same http2.ConfigureTransport call cloudflared's origin
// client uses.
func backendClient(cfg *config.Config) *http.Client {
	transport := &http.Transport{}
	if cfg.UsingHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			transport = &http.Transport{}
		}
	}
	return &http.Client{
		Timeout:   cfg.StreamDeadline(),
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func newAdminServer(addr string, promMetrics *metrics.PrometheusMetrics, acc *stats.Accumulator) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, version)
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promMetrics.Observe(acc)
		promMetrics.Handler().ServeHTTP(w, r)
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
