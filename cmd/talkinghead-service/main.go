// main package for the talkinghead-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/api"
	"github.com/book-expert/talkinghead-service/internal/cdn"
	"github.com/book-expert/talkinghead-service/internal/config"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/book-expert/talkinghead-service/internal/download"
	"github.com/book-expert/talkinghead-service/internal/emotion"
	"github.com/book-expert/talkinghead-service/internal/handler"
	"github.com/book-expert/talkinghead-service/internal/objectstore"
	"github.com/book-expert/talkinghead-service/internal/pipeline"
	"github.com/book-expert/talkinghead-service/internal/sink"
	"github.com/book-expert/talkinghead-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	queueGroup         = "talkinghead-workers"
	healthCheckTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "talkinghead-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "talkinghead-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Connect to NATS
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("talkinghead-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	// 5. Build the job handler and its collaborators
	jobPipeline, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	outputSink, err := buildSink(cfg, natsConnection, log)
	if err != nil {
		return err
	}

	settings := handler.Settings{
		WorkDir:        cfg.Handler.WorkDir,
		MinResolution:  cfg.Handler.MinResolution,
		InferenceSteps: cfg.Handler.InferenceSteps,
		ExpandRatio:    cfg.Handler.ExpandRatio,
	}

	jobHandler := handler.New(
		download.New(cfg.DownloadTimeout(), log),
		jobPipeline,
		emotion.NewResolver(cfg.Handler.EmotionDir, log),
		outputSink,
		settings,
		log,
	)

	log.System("TalkingHead-Service initialized (bridge: %s, sink: %s).", cfg.Pipeline.Bridge, outputSink.Name())

	// 6. Serve the optional HTTP API and the NATS worker until shutdown
	if cfg.API.ListenAddr != "" {
		stopAPI := serveAPI(cfg, jobHandler, log)
		defer stopAPI()
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.JobSubject, queueGroup, jobHandler, cfg.JobTimeout(), cfg.ShutdownGrace(), log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	return natsWorker.Run(ctx)
}

// buildPipeline creates the configured bridge and guards it with the process-wide mutex.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.Pipeline, error) {
	switch cfg.Pipeline.Bridge {
	case config.BridgeHTTP:
		bridge := pipeline.NewHTTPBridge(cfg.Pipeline.ServiceURL, cfg.PipelineTimeout())

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		err := bridge.HealthCheck(healthCtx)
		if err != nil {
			return nil, fmt.Errorf("pipeline service health check failed: %w", err)
		}

		return pipeline.Serialize(bridge), nil
	default:
		bridge, err := pipeline.NewExecBridge(cfg.Pipeline.Command, cfg.Pipeline.DeviceID, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline bridge: %w", err)
		}

		return pipeline.Serialize(bridge), nil
	}
}

func buildSink(cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (core.OutputSink, error) {
	switch cfg.Output.Sink {
	case config.SinkCDN:
		uploader := cdn.NewUploader(cdn.Options{
			StorageEndpoint: cfg.CDN.StorageEndpoint,
			StorageZone:     cfg.CDN.StorageZone,
			VideoPath:       cfg.CDN.VideoPath,
			PublicHost:      cfg.CDN.PublicHost,
			AccessKey:       cfg.CDN.AccessKey,
			Timeout:         cfg.CDNTimeout(),
		}, log)

		return sink.NewCDN(uploader, log), nil
	case config.SinkObjectStore:
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		store, err := objectstore.New(jetstreamContext, cfg.NATS.VideoObjectStoreBucket)
		if err != nil {
			return nil, err
		}

		return sink.NewObjectStore(store, log), nil
	default:
		return sink.NewLocal(cfg.Output.LocalDir, log), nil
	}
}

func serveAPI(cfg *config.Config, jobHandler api.JobHandler, log *logger.Logger) func() {
	srv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewServer(jobHandler, cfg.JobTimeout(), log).Router(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.System("HTTP API listening on %s", cfg.API.ListenAddr)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP API stopped: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			log.Warn("HTTP API shutdown: %v", err)
		}
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
