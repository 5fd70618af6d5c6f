// Command coordinator is the composition root for the Transcribee
// coordinator: it parses configuration, connects to Postgres and the
// blob store, wires the authorization resolver, task dispatcher and
// sync hub together, and serves the REST/websocket surface plus an
// optional Prometheus metrics endpoint until it receives a shutdown
// signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transcribee/coordinator/internal/authz"
	"github.com/transcribee/coordinator/internal/blob"
	"github.com/transcribee/coordinator/internal/config"
	"github.com/transcribee/coordinator/internal/httpapi"
	"github.com/transcribee/coordinator/internal/logging"
	"github.com/transcribee/coordinator/internal/store"
	"github.com/transcribee/coordinator/internal/tasks"
	"github.com/transcribee/coordinator/pkg/metrics"
	"github.com/transcribee/coordinator/pkg/schema"

	synchub "github.com/transcribee/coordinator/internal/sync"
)

const authCacheTTL = 2 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// config.Load hasn't built a logger yet, so this one error path
		// writes directly to stderr rather than through zerolog.
		os.Stderr.WriteString("coordinator: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.Init(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("http_addr", cfg.HTTPAddr).Msg("starting transcribee coordinator")

	s, err := store.Open(cfg.DatabaseURL, logging.Component(log, "store"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer s.Close()

	blobs, err := newBlobBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob backend")
	}

	signer := blob.NewSigner(cfg.SecretKey, cfg.MediaSignatureMaxAge)
	resolver := authz.NewResolver(s, authCacheTTL)
	dispatcher := tasks.NewDispatcher(s, cfg.TaskAttemptLimit, cfg.WorkerTimeout, logging.Component(log, "dispatcher"))
	hub := synchub.NewHub(256)
	live := tasks.NewLiveWorkers()
	validator := schema.NewValidator()
	if err := tasks.RegisterDefaultSchemas(validator); err != nil {
		log.Fatal().Err(err).Msg("failed to register default task schemas")
	}
	m := metrics.New()

	server := httpapi.New(s, resolver, dispatcher, hub, blobs, signer, validator, live, m, cfg, logging.Component(log, "httpapi"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks.RunSweepers(ctx, dispatcher, s, logging.Component(log, "sweeper"))

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Routes()}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("REST/websocket server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: m.Handler(cfg.MetricsUsername, cfg.MetricsPassword, logging.Component(log, "metrics")),
		}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during HTTP server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during metrics server shutdown")
		}
	}

	log.Info().Msg("coordinator stopped")
}

// newBlobBackend constructs the S3-compatible blob backend from cfg.
// StoragePath is interpreted as "<endpoint>/<bucket>"; the coordinator has
// no local-filesystem fallback, since media is only ever reachable through
// a signed URL and always needs a real object store behind it.
func newBlobBackend(cfg *config.Config) (*blob.S3Storage, error) {
	endpoint, bucket := splitStoragePath(cfg.StoragePath)
	return blob.NewS3Storage(blob.S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          bucket,
		UseSSL:          cfg.S3UseSSL,
	})
}

// splitStoragePath splits "endpoint/bucket" on its final slash.
func splitStoragePath(storagePath string) (endpoint, bucket string) {
	for i := len(storagePath) - 1; i >= 0; i-- {
		if storagePath[i] == '/' {
			return storagePath[:i], storagePath[i+1:]
		}
	}
	return storagePath, "transcribee"
}
