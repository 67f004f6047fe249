package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatstore/internal/api"
	"github.com/npezzotti/go-chatstore/internal/config"
	"github.com/npezzotti/go-chatstore/internal/database"
	"github.com/npezzotti/go-chatstore/internal/kv"
	"github.com/npezzotti/go-chatstore/internal/logger"
	"github.com/npezzotti/go-chatstore/internal/stats"
)

const redisNamespace = "chat"

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	backend        string
	storeURL       string
	env            string
	retryLimit     uint64
	retryDelay     time.Duration
	allowedOrigins stringSliceFlag
)

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return kv.OpenPostgresStore(ctx, cfg.StoreURL)
	case config.BackendRedis:
		return kv.OpenRedisStore(ctx, cfg.StoreURL, redisNamespace)
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&backend, "backend", config.BackendMemory, "storage backend: memory, postgres or redis")
	flag.StringVar(&storeURL, "store-url", "", "postgres DSN or redis:// URL for the storage backend")
	flag.StringVar(&env, "env", config.DefaultEnv, "environment; dev enables human readable logs")
	flag.Uint64Var(&retryLimit, "retry-limit", config.DefaultRetryLimit, "retries after a lost room id or room creation race")
	flag.DurationVar(&retryDelay, "retry-delay", config.DefaultRetryBaseDelay, "first backoff delay between retries")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	log := logger.New(env, os.Stderr)

	cfg, err := config.NewConfig(addr, backend, storeURL, allowedOrigins)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	cfg.Env = env
	cfg.RetryLimit = retryLimit
	cfg.RetryBaseDelay = retryDelay

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := openStore(openCtx, cfg)
	cancelOpen()
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("store open")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	repo := database.NewKvChatRepository(store, log, statsUpdater,
		database.WithRetry(cfg.RetryLimit, cfg.RetryBaseDelay))
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	err = repo.Bootstrap(bootCtx)
	cancelBoot()
	if err != nil {
		log.Error().Err(err).Msg("bootstrap")
		return
	}

	app := api.NewChatApp(mux, log, repo, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
		return
	}

	log.Info().Msg("shutdown complete")
}
