package main

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/martinmaurice/erpgate/internal/server"
	"github.com/martinmaurice/erpgate/pkg/config"
	"github.com/martinmaurice/erpgate/pkg/enum"
	"github.com/martinmaurice/erpgate/pkg/env"
	"github.com/martinmaurice/erpgate/pkg/rate_limiter"
	"github.com/spf13/cobra"
	"log"
	"log/slog"
	"os"
	"time"
)

const redisPingTimeout = 5 * time.Second

var (
	envFilePath        string
	disableRateLimiter bool
)

var rootCmd = &cobra.Command{
	Use:          "erpgate",
	Short:        "Authenticated, rate limited gateway in front of the ERP backend API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFilePath, "env", "", "Enter the env file path you want to load if any")
	rootCmd.Flags().BoolVar(&disableRateLimiter, "disable-rate-limiter", false, "Disable the rate limiters")
}

func newStorage(envObj *env.Specification) (rate_limiter.Storer, func(), error) {
	switch enum.ParseStorage(envObj.RateLimiterStorage) {
	case enum.RedisStorage:
		redisStorage := rate_limiter.NewRedis()
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := redisStorage.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("could not reach redis at %s: %w", envObj.RedisAddr, err)
		}
		return redisStorage, func() {
			if err := redisStorage.Close(); err != nil {
				slog.Warn("could not close redis client", "error", err)
			}
		}, nil
	default:
		return rate_limiter.NewMemoryStorage(), func() {}, nil
	}
}

func run() error {
	if envFilePath != "" {
		slog.Info("loading env file", "path", envFilePath)
		if err := godotenv.Load(envFilePath); err != nil {
			return fmt.Errorf("could not be able to load the env file: %w", err)
		}
	}

	envObj := env.GetEnv()
	slog.Info("env loaded", "version", envObj.Version, "env", envObj.Env)

	cfg := config.GetConfig()

	storage, closeStorage, err := newStorage(envObj)
	if err != nil {
		return err
	}
	defer closeStorage()
	slog.Info("rate limiter storage ready", "storage", envObj.RateLimiterStorage, "policies", cfg.RateLimiterIDs())

	srv, err := server.NewServer(
		rate_limiter.New(cfg, storage),
		cfg,
		envObj,
		server.WithDisableRateLimiter(disableRateLimiter),
	)
	if err != nil {
		return err
	}
	return srv.Run()
}

func main() {
	slog.Info("erpgate v0")

	if err := rootCmd.Execute(); err != nil {
		log.Printf("erpgate stopped: %v", err)
		os.Exit(1)
	}
}
