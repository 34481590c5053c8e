package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"freelancehub/internal/api"
	"freelancehub/internal/api/middleware"
	"freelancehub/internal/auth"
	"freelancehub/internal/config"
	"freelancehub/internal/database"
	"freelancehub/internal/marketplace"
	"freelancehub/internal/proposal"
	"freelancehub/internal/storage"
	"freelancehub/internal/tasks"
)

func main() {
	// 本地开发时从 .env 读取，文件不存在不报错。
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.MustLoad()
	logger.Info("api bootstrapped",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		fatal(logger, "init database", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		fatal(logger, "migrate database", err)
	}
	logger.Info("database migrated")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fatal(logger, "ping redis", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer asynqClient.Close()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		fatal(logger, "init storage client", err)
	}

	authService, err := auth.NewAuthServiceFromFiles(
		cfg.Auth.PrivateKeyPath,
		cfg.Auth.PublicKeyPath,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	if err != nil {
		fatal(logger, "init auth service", err)
	}

	generator, err := proposal.NewGeminiGenerator(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model)
	if err != nil {
		fatal(logger, "init gemini client", err)
	}

	notifier := tasks.NewDispatcher(asynqClient)
	users := marketplace.NewUserService(db)
	profiles := marketplace.NewProfileService(db)
	jobs := marketplace.NewJobService(db, notifier, logger)
	milestones := marketplace.NewMilestoneService(db, notifier, logger, marketplace.MilestonePolicy{
		AllowResubmitAfterReject: cfg.Milestones.AllowResubmitAfterReject,
	})
	drafter := proposal.NewDrafter(generator, cfg.AI.Timeout, logger)

	handlers := api.Handlers{
		Auth:       api.NewAuthHandler(users, authService, redisClient, logger, cfg.Auth.SignInRateLimitPerHour),
		Jobs:       api.NewJobHandler(jobs, logger),
		Milestones: api.NewMilestoneHandler(milestones, storageClient, logger),
		Profiles:   api.NewProfileHandler(profiles, logger),
		Proposals:  api.NewProposalHandler(drafter, redisClient, logger, cfg.AI.RateLimitPerHour),
		Ws:         api.NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins()),
	}
	// 接口变量保持 nil，未配置 clamd 时跳过扫描。
	if scanner := api.NewClamdScanner(cfg.Clamd.Addr); scanner != nil {
		handlers.Files = api.NewSubmissionFileHandler(milestones, storageClient, scanner, logger, cfg.API.MaxUploadBytes)
	} else {
		logger.Warn("CLAMD_ADDR not set, uploads are not virus scanned")
		handlers.Files = api.NewSubmissionFileHandler(milestones, storageClient, nil, logger, cfg.API.MaxUploadBytes)
	}

	router := api.NewRouter(cfg.API, logger)
	api.RegisterRoutes(router, handlers, middleware.AuthMiddleware(authService))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "api server stopped", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
