// Command app serves the study chat API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"learnmate/internal/config"
	"learnmate/internal/domain/ports/adapter"
	aiAdapters "learnmate/internal/infra/adapters/ai"
	"learnmate/internal/infra/api"
	pg "learnmate/internal/infra/db/postgres"
	"learnmate/internal/infra/logging"
	"learnmate/internal/infra/metrics"
	red "learnmate/internal/infra/redis"
	"learnmate/internal/infra/sched"
	"learnmate/internal/infra/security"
	"learnmate/internal/infra/worker"
	"learnmate/internal/usecase"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted messages)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("app stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, cfg.LLM.Provider)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Encryption ----
	cipher, err := security.NewMessageCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	if !cipher.Enabled() {
		logger.Warn().Msg("security.encryption_key not set; chat messages are stored in plaintext")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	requests := pg.NewChatRequestRepoCacheDecorator(pg.NewChatRequestRepo(pool, cipher), redisClient, cipher, cfg.Redis.TTL)
	history := pg.NewChatHistoryRepo(pool, cipher)
	sessions := pg.NewStudySessionRepo(pool)

	// ---- LLM ----
	llm, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	llm = aiAdapters.NewLimitedLLM(llm, cfg.LLM.ConcurrentLimit)
	aiAdapters.WarmTokenizer()
	logger.Info().
		Str("provider", llm.Provider()).
		Str("model", cfg.LLM.Model).
		Int("concurrent_limit", cfg.LLM.ConcurrentLimit).
		Msg("LLM adapter ready")

	// ---- Job runner ----
	// Workers outlive the request ctx so in-flight answers can finish on shutdown.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	workers := worker.NewPool(cfg.Chat.Workers, cfg.Chat.QueueSize, logger)
	workers.Start(workCtx)

	runner := worker.NewChatRunner(requests, history, sessions, tm, llm, workers, red.NewRateLimiter(redisClient), worker.RunnerConfig{
		Model:               cfg.LLM.Model,
		LLMTimeout:          cfg.LLM.RequestTimeout,
		ContextTokens:       cfg.LLM.ContextTokens,
		HistoryMessages:     cfg.LLM.HistoryMessages,
		SubmitRatePerMinute: cfg.Chat.SubmitRatePerMinute,
		Dev:                 cfg.Runtime.Dev,
	}, logger)

	sweeper := sched.NewRequestSweeper(sched.SweeperConfig{
		Interval:      cfg.Chat.SweepInterval,
		RecoveryAfter: cfg.Chat.RecoveryAfter,
		StaleAfter:    cfg.LLM.RequestTimeout + cfg.Chat.StaleGrace,
		Retention:     cfg.Chat.Retention,
	}, requests, tm, runner, red.NewLocker(redisClient), logger)

	// ---- Use cases ----
	chatUC := usecase.NewChatUseCase(runner, requests, history, sessions, tm, cfg.Server.SyncTimeout, logger)
	sessionUC := usecase.NewSessionUseCase(sessions, logger)

	// ---- HTTP ----
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Disabled)
	if cfg.Auth.Disabled {
		logger.Warn().Str("user_id", api.DevUserID).Msg("authentication disabled")
	}
	checks := map[string]api.HealthCheck{
		"postgres": pool.Ping,
		"redis":    redisClient.Ping,
	}
	if cfg.LLM.Provider != "noop" {
		checks["llm"] = aiAdapters.ModelCheck(llm, cfg.LLM.Model)
	}
	srv := api.NewServer(chatUC, sessionUC, auth, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Checks:         checks,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := sweeper.Run(egCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		pg.ReportPoolStats(egCtx, pool, 15*time.Second)
		return nil
	})

	// ---- Graceful shutdown ----
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
		drained := make(chan struct{})
		go func() {
			workers.Stop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			// interrupted answers are failed by the runner, or by the next sweep
			logger.Warn().Msg("cancelling unfinished chat requests")
			cancelWork()
			<-drained
		}
		return nil
	})

	return eg.Wait()
}

func newLLM(ctx context.Context, cfg config.LLMConfig) (adapter.LLM, error) {
	switch cfg.Provider {
	case "gemini":
		return aiAdapters.NewGeminiAdapter(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	case "noop":
		return aiAdapters.NewNoopLLM(0), nil
	default:
		return aiAdapters.NewOllamaAdapter(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature)
	}
}
