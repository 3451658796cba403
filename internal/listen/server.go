package listen

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/devicehub/sdk-go/internal/config"
	"github.com/devicehub/sdk-go/internal/live"
	"github.com/devicehub/sdk-go/internal/sink"
	"github.com/devicehub/sdk-go/pkg/dispatch"
	"github.com/devicehub/sdk-go/pkg/platform"
	"github.com/devicehub/sdk-go/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server polls the configured queue and dispatches events until SIGINT or SIGTERM.
func Server(ctx context.Context, cfg *config.Config, logLevel zerolog.Level) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zerolog.SetGlobalLevel(logLevel)

	source, err := queue.LoadSQS(ctx, cfg.QueueURL, cfg.WaitSeconds)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise queue")
		return
	}

	var confirm confirmer
	if cfg.BaseURL != "" {
		client, err := platform.New(cfg.BaseURL, cfg.AccessKey, platform.WithFormat(cfg.Format))
		if err != nil {
			log.Error().Err(err).Msg("failed to initialise platform client")
			return
		}
		confirm = client
	}

	var onDecodeError decodeErrorHandler
	if cfg.ArchiveBucket != "" {
		archive, err := sink.LoadArchive(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialise archive")
			return
		}
		onDecodeError = archive.HandleDecodeError
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("archiving undecodable messages")
	}

	outputs, err := openSinks(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise sinks")
		return
	}
	defer outputs.close()

	hub := live.NewHub()
	go hub.Run(ctx)

	router := newRouter(confirm, onDecodeError, append(outputs.taps, hub.Handle)...)

	dispatcher := dispatch.New(source, router,
		dispatch.WithGzip(cfg.Gzip),
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithSort(cfg.Sort),
		dispatch.WithHealth(dispatch.NewHealth(prometheus.DefaultRegisterer)),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", hub)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("serving metrics and live events")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	if err := dispatcher.Run(ctx); err != nil {
		log.Error().Err(err).Msg("dispatcher failed")
	}

	log.Warn().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down http server")
	}
}
