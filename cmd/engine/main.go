package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiporacle/attestation/coordinator"
	"shiporacle/config"
	"shiporacle/internal/logging"
	"shiporacle/internal/messaging/consumer"
	"shiporacle/internal/messaging/producer"
	"shiporacle/internal/oracle"
	worker "shiporacle/processing"
	"shiporacle/storage/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEngineConfigPath = "./config/engine.defaults.yml"
	mockBroker              = "mock://local"
)

func main() {
	configPath := flag.String("config", defaultEngineConfigPath, "engine configuration file")
	flag.Parse()

	// Bootstrap logger until the configured level is known.
	_, restoreBoot, err := logging.Setup("info", "engine")
	if err != nil {
		panic(err)
	}

	engineCfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		zap.L().Fatal("Failed to load engine configuration", zap.Error(err))
	}
	restoreBoot()

	logger, flush, err := logging.Setup(engineCfg.Monitoring.LogLevel, "engine")
	if err != nil {
		zap.L().Fatal("Failed to configure logging", zap.Error(err))
	}
	defer flush()

	if err := run(engineCfg, *configPath, logger); err != nil {
		logger.Fatal("Attestation Engine stopped with error", zap.Error(err))
	}
	logger.Info("Attestation Engine shut down gracefully")
}

func run(cfg *config.EngineConfig, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Database.LogConfiguration(logger)
	dbStore, err := store.NewPostgresStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer dbStore.Close()

	core, err := oracle.Build(ctx, cfg.Oracle, configPath, cfg.BlockchainClientConfigPath, logger,
		coordinator.WithObserver(worker.StageRecorder(dbStore, logger)))
	if err != nil {
		return err
	}
	defer core.Close()

	if cfg.EventStream.Enabled() {
		publisher, err := producer.NewKafkaEventPublisher(cfg.EventStream, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		core.Ledger.Subscribe(publisher)
	}

	var (
		consumers []consumer.Consumer
		requeue   producer.Producer
	)
	if cfg.KafkaConsumer.Brokers[0] == mockBroker {
		logger.Warn("Using in-memory mock consumer; no requests will arrive from Kafka")
		consumers = append(consumers, consumer.NewMockConsumer(logger))
	} else {
		logger.Info("Initializing Kafka consumers", zap.Int("count", cfg.KafkaConsumer.Count))
		for i := 0; i < cfg.KafkaConsumer.Count; i++ {
			c, err := consumer.NewKafkaConsumer(cfg.KafkaConsumer, logger)
			if err != nil {
				return err
			}
			consumers = append(consumers, c)
		}
		p, err := producer.NewKafkaProducer(config.KafkaProducerConfig{
			Brokers:      cfg.KafkaConsumer.Brokers,
			Topic:        cfg.KafkaConsumer.Topic,
			RequiredAcks: "all",
		}, logger.Named("requeue"))
		if err != nil {
			return err
		}
		defer p.Close()
		requeue = p
	}
	defer func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		var opts []worker.Option
		if requeue != nil {
			opts = append(opts, worker.WithRequeue(requeue))
		}
		w := worker.New(cfg.Worker, cfg.MaxTaskRetries, logger, dbStore, c, core.Coordinator, opts...)
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.Monitoring.HealthListenAddr != "" {
		srv := healthServer(cfg.Monitoring, logger)
		g.Go(func() error {
			logger.Info("Health endpoint listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Attestation Engine started", zap.Int("consumers", len(consumers)), zap.Int("concurrency", cfg.Worker.Concurrency))
	<-gctx.Done()
	logger.Info("Shutdown signal received, waiting for workers")
	return g.Wait()
}

func healthServer(cfg config.EngineMonitoringConfig, logger *zap.Logger) *http.Server {
	r := chi.NewRouter()
	r.Get(cfg.HealthCheckPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"engine"}`))
	})
	return &http.Server{
		Addr:              cfg.HealthListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
}
