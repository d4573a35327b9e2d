package di

import (
	"context"
	"fmt"
	"time"

	"TickLab/internal/domain/repository"
	"TickLab/internal/handler/api"
	internalrepo "TickLab/internal/repository"
	"TickLab/internal/service/network"
	"TickLab/internal/service/stream"
	"TickLab/internal/usecase"
	pkgch "TickLab/pkg/clickhouse"
	"TickLab/pkg/config"
	xhttp "TickLab/pkg/http"
	pkgkafka "TickLab/pkg/kafka"
	applogger "TickLab/pkg/logger"
	"TickLab/pkg/metrics"
	"TickLab/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	format := cfg.Logging.Format
	if format == "" {
		format = "console"
	}
	output := cfg.Logging.Output
	if output == "" {
		output = "stdout"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: output})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideRecordStore creates the ClickHouse record store and its schema.
func ProvideRecordStore(client *pkgch.Client, log *applogger.Logger) (repository.RecordStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return internalrepo.NewRecordStore(ctx, client, log)
}

// ProvideStateCache creates the Redis state cache, or the in-process
// fallback when Redis is not configured.
func ProvideStateCache(cfg *config.Config, log *applogger.Logger) (repository.StateCache, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled, using in-process state cache")
		return internalrepo.NewMemoryCache(), nil
	}
	cache, err := internalrepo.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache, nil
}

// ProvideEventPublisher creates the Kafka event publisher, or nil when
// Kafka is disabled. Consumers treat a nil publisher as "no events".
func ProvideEventPublisher(cfg *config.Config) (repository.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewEventPublisher(producer, cfg.Kafka.Topic), nil
}

// ProvideEngine creates the network engine configured from YAML.
func ProvideEngine(cfg *config.Config) (*network.Engine, error) {
	layers := cfg.Network.Layers
	if len(layers) == 0 {
		layers = []int{10, 16, 1}
	}
	rate := cfg.Network.LearningRate
	if rate <= 0 {
		rate = 0.01
	}
	epochs := cfg.Network.Epochs
	if epochs <= 0 {
		epochs = 25
	}
	eng := network.New(nil)
	if err := eng.Configure(layers, rate, epochs); err != nil {
		return nil, fmt.Errorf("network engine: %w", err)
	}
	return eng, nil
}

// ProvideStreamClient creates the tick stream client with persistence
// and metrics wired in.
func ProvideStreamClient(
	cfg *config.Config,
	log *applogger.Logger,
	store repository.RecordStore,
	m repository.Metrics,
) *stream.Client {
	opts := []stream.Option{
		stream.WithMetrics(m),
		stream.WithTickStore(store, cfg.Collector.UserID, cfg.Stream.PersistInterval),
		stream.WithAutoReconnect(cfg.Stream.AutoReconnect),
	}
	if cfg.Stream.ReconnectDelay > 0 {
		opts = append(opts, stream.WithReconnectDelay(cfg.Stream.ReconnectDelay))
	}
	if cfg.Stream.MaxAttempts > 0 {
		opts = append(opts, stream.WithMaxAttempts(cfg.Stream.MaxAttempts))
	}
	return stream.NewClient(log, opts...)
}

// ProvideCollector creates the epoch collector use case.
func ProvideCollector(
	cfg *config.Config,
	log *applogger.Logger,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	m repository.Metrics,
	eng *network.Engine,
	streamClient *stream.Client,
) *usecase.EpochCollector {
	return usecase.NewEpochCollector(
		log, store, cache, pub, m, eng, streamClient,
		cfg.Collector.UserID, cfg.Collector.BatchSize, cfg.Collector.TrainEpochs,
	)
}

// ProvidePredictor creates the prediction cycle use case.
func ProvidePredictor(
	cfg *config.Config,
	log *applogger.Logger,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	m repository.Metrics,
	eng *network.Engine,
	streamClient *stream.Client,
) *usecase.PredictionCycle {
	var opts []usecase.PredictorOption
	if cfg.Predictor.AttemptInterval > 0 {
		opts = append(opts, usecase.WithAttemptInterval(cfg.Predictor.AttemptInterval))
	}
	return usecase.NewPredictionCycle(
		log, store, cache, pub, m, eng, streamClient,
		cfg.Collector.UserID, opts...,
	)
}

// ProvideAPIHandler creates the dashboard API handler.
func ProvideAPIHandler(
	cfg *config.Config,
	log *applogger.Logger,
	streamClient *stream.Client,
	collector *usecase.EpochCollector,
	predictor *usecase.PredictionCycle,
	store repository.RecordStore,
) xhttp.Handler {
	return api.NewHandler(log, streamClient, collector, predictor, store,
		cfg.Stream.Market, cfg.Collector.UserID)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	streamClient *stream.Client,
	collector *usecase.EpochCollector,
	predictor *usecase.PredictionCycle,
	store repository.RecordStore,
	cache repository.StateCache,
	pub repository.Publisher,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, streamClient, collector, predictor, store, cache, pub, handler)
}
