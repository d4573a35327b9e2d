package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TickLab/internal/domain/repository"
	"TickLab/internal/service/stream"
	"TickLab/internal/usecase"
	"TickLab/pkg/config"
	xhttp "TickLab/pkg/http"
	applogger "TickLab/pkg/logger"
)

// App encapsulates the entire application lifecycle: stream connection,
// state restoration, the collector and prediction loops, and the HTTP API.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	stream     *stream.Client
	collector  *usecase.EpochCollector
	predictor  *usecase.PredictionCycle
	store      repository.RecordStore
	cache      repository.StateCache
	pub        repository.Publisher
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	streamClient *stream.Client,
	collector *usecase.EpochCollector,
	predictor *usecase.PredictionCycle,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		stream:    streamClient,
		collector: collector,
		predictor: predictor,
		store:     store,
		cache:     cache,
		pub:       pub,
		handler:   handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore resumable state before any ticks flow.
	restoreCtx, restoreCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.collector.Restore(restoreCtx); err != nil {
		a.log.Warn("collector restore failed", applogger.Error(err))
	}
	if err := a.predictor.Restore(restoreCtx); err != nil {
		a.log.Warn("predictor restore failed", applogger.Error(err))
	}
	restoreCancel()

	sub := map[string]interface{}{
		"ticks":     a.cfg.Stream.Market,
		"subscribe": 1,
	}
	if err := a.stream.Connect(ctx, a.cfg.Stream.URL, sub); err != nil {
		return err
	}
	a.log.Info("stream connected",
		applogger.String("url", a.cfg.Stream.URL),
		applogger.String("market", a.cfg.Stream.Market))

	if err := a.collector.Start(ctx); err != nil {
		a.log.Error("collector start failed", applogger.Error(err))
		return err
	}
	if err := a.predictor.Start(ctx); err != nil {
		a.log.Error("predictor start failed", applogger.Error(err))
		return err
	}
	if a.cfg.Predictor.Mode != "" {
		a.predictor.SetMode(usecase.Mode(a.cfg.Predictor.Mode))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services. Loops stop before the stream
// disconnects so no tick is consumed half-way.
func (a *App) shutdown(ctx context.Context) error {
	a.predictor.Stop()
	a.collector.Stop()
	a.stream.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("state cache close error", applogger.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("record store close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
