package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/api"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/config"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/dicomweb"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/storage"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/telemetry"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/xnat"
)

var serveFlags struct {
	listen      string
	archiveRoot string
	backend     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DICOMweb HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", "", "listen address, overrides LISTEN_ADDRESS")
	serveCmd.Flags().StringVar(&serveFlags.archiveRoot, "archive-root", "", "XNAT archive root, overrides XNAT_ARCHIVE")
	serveCmd.Flags().StringVar(&serveFlags.backend, "backend", "", "archive backend: xnat, postgres or fixture")
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serveFlags.listen != "" {
		cfg.ListenAddress = serveFlags.listen
	}
	if serveFlags.archiveRoot != "" {
		cfg.ArchiveRoot = serveFlags.archiveRoot
	}
	if serveFlags.backend != "" {
		cfg.Backend = serveFlags.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Setup(ctx, telemetry.Settings{
		Enabled:        cfg.OtelEnabled,
		Endpoint:       cfg.OtelEndpoint,
		ServiceName:    cfg.OtelServiceName,
		ServiceVersion: cfg.OtelServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OTel provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("OTel shutdown failed", "error", err)
		}
	}()

	catalog, closeCatalog, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	var authz archive.Authorizer = archive.AllowAll{}
	if len(cfg.ACL) > 0 {
		authz = archive.StaticACL(cfg.ACL)
	}

	service := dicomweb.NewService(catalog, authz,
		afero.NewReadOnlyFs(afero.NewOsFs()),
		codec.NewDicomCodec(cfg.RenderQuality),
		dicomweb.Options{ArchiveRoot: cfg.ArchiveRoot, ParseWorkers: cfg.ParseWorkers},
	)

	serviceName := ""
	if cfg.OtelEnabled {
		serviceName = cfg.OtelServiceName
	}
	router := api.NewRouter(service, api.RouterOptions{
		ServiceName:    serviceName,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	slog.Info("Starting server", "address", cfg.ListenAddress, "backend", cfg.Backend, "archiveRoot", cfg.ArchiveRoot)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	slog.Info("Shutting down gracefully, press Ctrl+C again to force")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server exiting")
	return nil
}

// openCatalog connects the configured archive backend.
func openCatalog(ctx context.Context, cfg *config.Config) (archive.Catalog, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendXnat:
		base := &http.Client{Timeout: cfg.HttpClientTimeout}
		instrumented := &http.Client{Transport: otelhttp.NewTransport(base.Transport), Timeout: cfg.HttpClientTimeout}
		client := xnat.NewClientWithHttpClient(cfg.XnatURL, instrumented)
		if cfg.XnatUser != "" {
			client.WithServiceAccount(cfg.XnatUser, cfg.XnatPassword)
		}
		slog.Info("Using XNAT REST catalog", "url", cfg.XnatURL)
		return client, noop, nil
	case config.BackendPostgres:
		store, err := storage.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using PostgreSQL catalog")
		return store, store.Close, nil
	case config.BackendFixture:
		catalog, err := archive.LoadFixture(cfg.FixtureFile)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using fixture catalog", "file", cfg.FixtureFile)
		return catalog, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
}
