package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/poar-detector/internal/config"
	"github.com/Brownie44l1/poar-detector/internal/detector"
	"github.com/Brownie44l1/poar-detector/internal/handlers"
	"github.com/Brownie44l1/poar-detector/internal/logger"
	"github.com/Brownie44l1/poar-detector/internal/model"
	"github.com/Brownie44l1/poar-detector/internal/worker"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to config file (defaults to ./configs/config.yaml or ./config.yaml)",
	}

	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port to listen on, overrides config and PORT",
	}
)

func main() {
	cmd := &cli.Command{
		Name:  "server",
		Usage: "Serve the image authenticity detector over HTTP",
		Flags: []cli.Flag{
			configFlag,
			portFlag,
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String(configFlag.Name))
	if err != nil {
		return err
	}
	if port := cmd.Int(portFlag.Name); port > 0 {
		cfg.Server.Port = int(port)
	}

	zl, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zl.Sync()

	env, err := cfg.Environment()
	if err != nil {
		return err
	}

	zl.Info("Loading model",
		zap.String("model", env.ModelPath()),
		zap.String("metadata", env.MetadataPath()),
		zap.Stringer("device", env.Device),
		zap.Int("workers", cfg.Workers.Count))

	loader := model.ONNXLoader(cfg.ONNXOptions())
	workers := make([]*detector.Handler, cfg.Workers.Count)
	for i := range workers {
		workers[i] = detector.NewHandler(env, loader, zl.With(zap.Int("worker", i)))
	}

	pool, err := worker.NewPool(workers, zl)
	if err != nil {
		return err
	}

	if err := pool.InitializeAll(env); err != nil {
		if cerr := releaseRuntime(context.Background(), pool, model.Shutdown); cerr != nil {
			zl.Warn("Failed to release runtime", zap.Error(cerr))
		}
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	h := handlers.NewHandler(pool, handlers.Options{
		ModelName:    cfg.Model.Name,
		QueueTimeout: cfg.Server.QueueTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORS:         cfg.Server.CORS,
		MetricsPath:  metricsPath,
	}, zl)

	routes := []string{
		"GET /health",
		"GET /ping",
		"POST /predictions/" + cfg.Model.Name,
		"POST /model/predict",
		"POST /model/predict/" + cfg.Model.Name,
	}
	if metricsPath != "" {
		routes = append(routes, "GET "+metricsPath)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zl.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.Float64("threshold", workers[0].Threshold()),
			zap.Stringer("device", workers[0].Device()))
		zl.Info("Endpoints", zap.Strings("routes", routes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zl.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Error("HTTP shutdown failed", zap.Error(err))
		}
		return releaseRuntime(shutdownCtx, pool, model.Shutdown)
	})

	return g.Wait()
}

type poolCloser interface {
	Close(ctx context.Context) error
}

// releaseRuntime closes the pool and then tears down the runtime. The runtime
// stays up when workers are still busy, since their sessions depend on it.
func releaseRuntime(ctx context.Context, pool poolCloser, shutdown func() error) error {
	if err := pool.Close(ctx); err != nil {
		return fmt.Errorf("runtime left running: %w", err)
	}
	if err := shutdown(); err != nil {
		return fmt.Errorf("failed to shut down runtime: %w", err)
	}
	return nil
}
