package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/core"
	"github.com/Mirai3103/quiz-grader/internal/deps"
	"github.com/Mirai3103/quiz-grader/internal/httpapi"
	opsservice "github.com/Mirai3103/quiz-grader/internal/httpapi/ops"
	quizservice "github.com/Mirai3103/quiz-grader/internal/httpapi/quiz"
	"github.com/Mirai3103/quiz-grader/internal/metrics"
	"github.com/Mirai3103/quiz-grader/internal/session"
	"github.com/Mirai3103/quiz-grader/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	grader, err := deps.Grader(cfg, logger, core.WithObserver(m))
	if err != nil {
		logger.Fatal("failed to create grader", zap.Error(err))
	}

	mongoClient, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		logger.Fatal("failed to connect to mongo", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	questions := store.FromClient(mongoClient, cfg.Mongo)

	redisClient, err := session.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	sessions := session.NewRedisStore(redisClient, time.Duration(cfg.Redis.SessionTTLMin)*time.Minute)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger.Named("http")))
	router.Use(session.Middleware(sessions, logger))

	httpapi.Register(router,
		opsservice.NewOpsService(m.Handler()),
		quizservice.NewQuizService(grader, questions, m, logger,
			quizservice.WithGradeLimits(cfg.Runner.JobTimeout(), cfg.Runner.MaxConcurrentJobs)),
	)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: cfg.HTTPWriteTimeout(),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
