package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/broker"
	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	"github.com/viboost/comment-engine-go/internal/database"
	"github.com/viboost/comment-engine-go/internal/handler"
	"github.com/viboost/comment-engine-go/internal/jobs"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/queue"
	"github.com/viboost/comment-engine-go/internal/redis"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/service"
	"github.com/viboost/comment-engine-go/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	proxyRepo := repository.NewProxyRepository(db.DB)
	profileRepo := repository.NewAPIProfileRepository(db.DB)
	accountRepo := repository.NewAccountRepository(db.DB)
	scheduleRepo := repository.NewScheduleRepository(db.DB)
	commentRepo := repository.NewCommentRepository(db.DB)
	viewRepo := repository.NewViewScheduleRepository(db.DB)

	cacheLayer := cache.New(redisClient)
	jobQueue := queue.New(redisClient.Client)

	apiClient := upstream.NewClient(cfg.UpstreamBaseURL, activeAPIKey(profileRepo))
	oauthClient := upstream.NewOAuthClient(cfg.OAuthTokenURL)
	llmClient := upstream.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	tokenBroker := broker.New(proxyRepo, profileRepo, oauthClient)
	viewer := service.NewHTTPViewer(cfg.ViewerURL)

	tracker := service.NewUsageTracker()
	selector := service.NewSelector(cacheLayer, tracker)
	sleeper := service.NewSleeper(scheduleRepo)
	generator := service.NewGenerator(scheduleRepo, apiClient, llmClient)
	scheduler := service.NewScheduler(scheduleRepo, jobQueue)
	processor := service.NewProcessor(
		scheduleRepo, commentRepo, accountRepo, profileRepo,
		cacheLayer, jobQueue, selector, sleeper, generator,
	)
	poster := service.NewPoster(
		commentRepo, accountRepo, proxyRepo, profileRepo, scheduleRepo,
		tokenBroker, apiClient, cacheLayer,
	)
	viewService := service.NewViewService(viewRepo, accountRepo, tokenBroker, apiClient, jobQueue, viewer)

	workerCtx, stopWorkers := context.WithCancel(context.Background())

	scheduleWorker := queue.NewWorker(jobQueue, config.QueueScheduleProcessing, processor.HandleProcessSchedule, queue.WorkerOptions{
		Concurrency:  cfg.ScheduleConcurrency,
		LockDuration: config.JobLeaseDuration,
	})
	postWorker := queue.NewWorker(jobQueue, config.QueuePostComment, poster.HandlePostComment, queue.WorkerOptions{
		Concurrency:   cfg.PostConcurrency,
		LockDuration:  config.JobLeaseDuration,
		RatePerSecond: cfg.PostRatePerSecond,
	})
	viewWorker := queue.NewWorker(jobQueue, config.QueueSimulateView, viewService.HandleSimulateView, queue.WorkerOptions{
		Concurrency:  cfg.ViewConcurrency,
		LockDuration: config.JobLeaseDuration,
	})

	scheduleWorker.Start(workerCtx)
	postWorker.Start(workerCtx)
	viewWorker.Start(workerCtx)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	if err := scheduler.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start schedule driver")
	}
	if err := viewService.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start view driver")
	}
	cancelStart()

	resetLoc, _ := cfg.ResetLocation()
	maintenance := jobs.NewRunner(
		resetLoc, jobQueue, cacheLayer, scheduler, tracker,
		scheduleRepo, commentRepo, accountRepo, profileRepo,
	)
	if err := maintenance.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start maintenance loops")
	}

	authMiddleware := middleware.NewAuthMiddleware(userRepo)

	scheduleHandler := handler.NewScheduleHandler(scheduleRepo, commentRepo, cacheLayer, scheduler, jobQueue)
	accountHandler := handler.NewAccountHandler(accountRepo, tokenBroker, apiClient)
	proxyHandler := handler.NewProxyHandler(proxyRepo, tokenBroker)
	commentHandler := handler.NewCommentHandler(commentRepo)
	profileHandler := handler.NewProfileHandler(profileRepo)
	viewHandler := handler.NewViewHandler(viewRepo, viewService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/schedules", scheduleHandler.Routes())
		r.Mount("/accounts", accountHandler.Routes())
		r.Mount("/proxies", proxyHandler.Routes())
		r.Mount("/comments", commentHandler.Routes())
		r.Mount("/profiles", profileHandler.Routes())
		r.Mount("/views", viewHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	maintenance.Stop()
	scheduler.Stop(shutdownCtx)
	stopWorkers()
	scheduleWorker.Stop()
	postWorker.Stop()
	viewWorker.Stop()

	log.Info().Msg("server stopped")
}

// activeAPIKey reads the active profile's API key for metadata lookups; an
// empty key only disables the AI title path.
func activeAPIKey(profiles repository.APIProfileRepository) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	profile, err := profiles.FindActive(ctx)
	if err != nil || profile == nil {
		return ""
	}
	return profile.APIKey
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
