// Package deps builds the dependencies shared by the runner, server and grade binaries.
package deps

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/config"
	"github.com/Mirai3103/quiz-grader/internal/core"
	"github.com/Mirai3103/quiz-grader/internal/core/sandbox"
	"github.com/Mirai3103/quiz-grader/internal/logger"
)

// Config loads an optional .env file into the environment, then the
// configuration. A missing .env is not an error.
func Config(configPaths ...string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func Logger(cfg *config.Config) (*zap.Logger, error) {
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		l.Info("configuration loaded", zap.String("file", cfg.Source))
	} else {
		l.Info("no config file found, using defaults and environment")
	}
	return l, nil
}

// Grader builds the sandbox executor named in the runner config and a grader on top of it.
func Grader(cfg *config.Config, log *zap.Logger, opts ...core.Option) (*core.Grader, error) {
	executor, err := sandbox.NewExecutor(cfg.Runner, log)
	if err != nil {
		return nil, fmt.Errorf("create sandbox executor: %w", err)
	}
	log.Info("sandbox executor ready", zap.String("executor", executor.ID()))
	return core.NewGrader(executor, cfg.Runner, append([]core.Option{core.WithLogger(log)}, opts...)...), nil
}

// NATS connects with the reconnect policy from the config.
func NATS(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitSec)*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}
