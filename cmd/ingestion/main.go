package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"shiporacle/blockchain/types"
	"shiporacle/config"
	core "shiporacle/ingestion/service/core"
	grpchandler "shiporacle/ingestion/service/grpc"
	httphandler "shiporacle/ingestion/service/http"
	"shiporacle/internal/logging"
	"shiporacle/internal/messaging/consumer"
	"shiporacle/internal/messaging/producer"
	"shiporacle/internal/oracle"
	"shiporacle/storage/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// API Gateway configuration file path
const defaultAPIConfigPath = "./config/ingestion.defaults.yml"

func main() {
	configPath := flag.String("config", defaultAPIConfigPath, "ingestion configuration file")
	flag.Parse()

	_, restoreBoot, err := logging.Setup("info", "ingestion")
	if err != nil {
		panic(err)
	}
	cfg, err := config.LoadApiGatewayConfig(*configPath)
	if err != nil {
		zap.L().Fatal("Failed to load API Gateway configuration", zap.Error(err))
	}
	restoreBoot()

	logger, flush, err := logging.Setup(cfg.Monitoring.LogLevel, "ingestion")
	if err != nil {
		zap.L().Fatal("Failed to configure logging", zap.Error(err))
	}
	defer flush()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal("API Gateway stopped with error", zap.Error(err))
	}
	logger.Info("All servers stopped. API Gateway shutdown.")
}

func run(cfg *config.ApiGatewayConfig, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orc, err := oracle.Build(ctx, cfg.Oracle, configPath, cfg.BlockchainClientConfigPath, logger)
	if err != nil {
		return err
	}
	defer orc.Close()

	deps := core.Deps{
		Coordinator: orc.Coordinator,
		Signer:      orc.Signer,
		Ledger:      orc.Ledger,
		LedgerCfg:   orc.LedgerCfg,
		Oracle:      cfg.Oracle,
		Batch:       cfg.BatchProcessor,
	}
	if cfg.AsyncEnabled {
		cfg.Database.LogConfiguration(logger)
		dbStore, err := store.NewPostgresStore(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer dbStore.Close()

		kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaProducer, logger)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		deps.Store, deps.Producer = dbStore, kafkaProducer
	} else {
		logger.Info("async_enabled not set, queued attestation endpoints are disabled")
	}

	coreService := core.NewService(deps, logger)
	defer coreService.Close()

	hub := httphandler.NewEventHub(logger)
	defer hub.Close()
	orc.Ledger.Subscribe(hub)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.EventStream.Enabled() {
		events, err := consumer.NewKafkaEventConsumer(cfg.EventStream, logger)
		if err != nil {
			return err
		}
		defer events.Close()
		g.Go(func() error {
			return events.Run(gctx, func(ctx context.Context, ev types.Event) {
				_ = hub.PublishEvent(ctx, ev)
			})
		})
	}

	if cfg.HttpListenAddr != "" {
		httpServer := &http.Server{
			Addr:           cfg.HttpListenAddr,
			Handler:        httphandler.NewHandler(coreService, hub, logger).Routes(cfg.Monitoring.HealthCheckPath),
			ReadTimeout:    cfg.HttpServer.ReadTimeout,
			WriteTimeout:   cfg.HttpServer.WriteTimeout,
			IdleTimeout:    cfg.HttpServer.IdleTimeout,
			MaxHeaderBytes: cfg.HttpServer.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(logger.Named("http")),
		}
		g.Go(func() error {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HttpListenAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hub.Close() // hijacked websocket connections are not covered by Shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	} else {
		logger.Info("http_listen_addr not configured, skipping HTTP server startup")
	}

	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			return err
		}
		grpcServer := grpc.NewServer()
		grpchandler.Register(grpcServer, grpchandler.NewServer(coreService, logger))
		healthSrv := health.NewServer()
		healthSrv.SetServingStatus(grpchandler.ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthSrv)

		g.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GrpcListenAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	} else {
		logger.Info("grpc_listen_addr not configured, skipping gRPC server startup")
	}

	logger.Info("API Gateway started", zap.String("ledger", orc.LedgerCfg.BlockchainType), zap.Bool("async", cfg.AsyncEnabled))
	return g.Wait()
}
