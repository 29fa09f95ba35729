package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/core"
	"github.com/Mirai3103/quiz-grader/internal/deps"
	"github.com/Mirai3103/quiz-grader/internal/metrics"
	natsClient "github.com/Mirai3103/quiz-grader/internal/nats"
	"github.com/Mirai3103/quiz-grader/internal/worker"
)

func main() {
	cfg, err := deps.Config()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger, err := deps.Logger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	m := metrics.New()
	grader, err := deps.Grader(cfg, logger, core.WithObserver(m))
	if err != nil {
		logger.Fatal("failed to create grader", zap.Error(err))
	}

	nc, err := deps.NATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer nc.Close()
	logger.Info("connected to nats", zap.String("url", cfg.NATS.URL))

	publisher := natsClient.NewPublisher(nc, cfg.NATS.GradeResultSubject, logger)
	jobHandler := worker.NewJobHandler(publisher, grader, cfg.Runner, logger, worker.WithInFlightGauge(m.JobsInFlight))

	subscriber := natsClient.NewSubscriber(nc, cfg.NATS.GradeRequestSubject, cfg.NATS.QueueGroup, jobHandler, logger)
	subscription, err := subscriber.SubscribeToGradeRequests()
	if err != nil {
		logger.Fatal("failed to subscribe", zap.Error(err))
	}

	if cfg.Runner.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.Runner.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("runner is listening for grade requests")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("shutting down runner")
	if err := subscription.Unsubscribe(); err != nil {
		logger.Warn("unsubscribe failed", zap.Error(err))
	}
	jobHandler.Wait()
	if err := nc.Drain(); err != nil {
		logger.Warn("nats drain failed", zap.Error(err))
	}
}
