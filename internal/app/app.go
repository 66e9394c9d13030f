// Package app собирает сервис исполнения заказов: хранилище, сервисы, gRPC, HTTP и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/housekeeping"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	grpcStopTimeout   = 5 * time.Second
	workerStopTimeout = 5 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или падения gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.NewFulfillmentMetrics()
	rt, err := initStorage(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	deps, err := NewDependencies(cfg, rt.tx, rt.idempotencyRepo, m, logger)
	if err != nil {
		return err
	}
	if cfg.SeedDemoData {
		if err := seedDemoCatalog(ctx, deps.Inventory, logger); err != nil {
			return fmt.Errorf("seed demo catalog: %w", err)
		}
	}

	// Без брокера сервис продолжает работу: outbox уходит в лог.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	defer closeKafka(producer, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workerCtx, cfg, rt, producer, logger)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	consumer, err := startNotificationConsumer(workerCtx, cfg, deps.Callbacks, producer, logger)
	if err != nil {
		return fmt.Errorf("start payment notification consumer: %w", err)
	}
	if consumer != nil {
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop payment notification consumer")
			}
		}()
	}

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", rt.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(rt.outboxRepo, cfg.OutboxMaxPending, cfg.OutboxMaxAge))

	notifications := webhook.NewHandler(deps.Callbacks, webhook.WithLogger(logger.WithField("component", "payment-webhook")))
	httpLogger := logger.WithField("component", "http")
	ops, err := listenOps(cfg.MetricsAddr, newHTTPRouter(httpLogger, healthHandler, notifications.Routes), httpLogger)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.MetricsAddr, err)
	}
	defer ops.shutdown()

	grpcServer, healthServer := newGRPCServer(deps.GRPCService(), logger)
	go healthHandler.Watch(workerCtx, cfg.HealthInterval, func(r healthcheck.Report) {
		publishServingStatus(healthServer, r, logger)
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func newGRPCServer(svc *grpcsvc.FulfillmentService, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	svc.Register(server)
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	// До первой проверки хранилища сервис не принимает трафик.
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

// publishServingStatus переносит готовность из отчёта проверок в gRPC health service.
func publishServingStatus(srv *health.Server, r healthcheck.Report, logger *log.Entry) {
	status := healthpb.HealthCheckResponse_SERVING
	entry := logger.WithField("health", r.Status)
	if !r.Ready() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		entry = entry.WithField("failing", r.Failing())
		entry.Warn("service is not ready")
	} else {
		entry.Info("service is ready")
	}
	srv.SetServingStatus("", status)
	srv.SetServingStatus(grpcsvc.ServiceName, status)
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startWorkers запускает outbox worker и housekeeping. Канал закрывается, когда все они завершились.
func startWorkers(ctx context.Context, cfg Config, rt *storageRuntime, producer *kafka.Producer, logger *log.Entry) <-chan struct{} {
	publisher, dlq := outboxPublishers(cfg, producer, logger)
	workerLogger := logger.WithField("component", "outbox-worker")
	outboxOpts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if cfg.OutboxBreakerFailures > 0 {
		outboxOpts = append(outboxOpts, outbox.WithBreaker(
			retry.NewCircuitBreaker(cfg.OutboxBreakerFailures, cfg.OutboxBreakerReset, workerLogger),
		))
	}
	if dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlq))
	}

	runners := []func(context.Context){
		outbox.NewWorker(rt.outboxRepo, publisher, outboxOpts...).Run,
	}

	hkMetrics := metrics.NewHousekeepingMetrics(prometheus.DefaultRegisterer)
	hkLogger := logger.WithField("component", "housekeeping")
	runners = append(runners, housekeeping.NewSweeper(rt.idempotencyRepo, housekeeping.Config{
		Target:    housekeeping.TargetIdempotency,
		Interval:  cfg.IdempotencyCleanupInterval,
		BatchSize: cfg.IdempotencyCleanupBatchSize,
		Logger:    hkLogger,
		Metrics:   hkMetrics,
	}).Run)
	if cfg.OutboxRetention > 0 {
		runners = append(runners, housekeeping.NewSweeper(housekeeping.SentOutbox(rt.outboxRepo, cfg.OutboxRetention), housekeeping.Config{
			Target:    housekeeping.TargetOutbox,
			Interval:  cfg.IdempotencyCleanupInterval,
			BatchSize: cfg.IdempotencyCleanupBatchSize,
			Logger:    hkLogger,
			Metrics:   hkMetrics,
		}).Run)
	} else {
		hkLogger.Info("outbox retention disabled, sent events are kept")
	}

	var wg sync.WaitGroup
	for _, run := range runners {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет фоновые воркеры и ждёт их завершения не дольше workerStopTimeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("background workers stopped")
	case <-time.After(workerStopTimeout):
		logger.Warn("background workers did not stop in time")
	}
}
