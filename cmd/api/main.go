package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/petguard/internal/auth"
	"github.com/BradenHooton/petguard/internal/background"
	"github.com/BradenHooton/petguard/internal/config"
	"github.com/BradenHooton/petguard/internal/database"
	"github.com/BradenHooton/petguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/petguard/internal/middleware"
	"github.com/BradenHooton/petguard/internal/ratelimit"
	"github.com/BradenHooton/petguard/internal/repositories"
	"github.com/BradenHooton/petguard/internal/routes"
	"github.com/BradenHooton/petguard/internal/services"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Shared rate limit counters; without Redis each instance counts alone
	var redisClient *redis.Client
	loginRateLimit := middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.LoginRequestsPerMinute,
		IPConfig:          &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies},
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		loginRateLimit.Counter = ratelimit.NewRedisLimitCounter(redisClient, ratelimit.Options{
			Prefix:           "petguard:login",
			FallbackInMemory: true,
		}, logger)
	} else {
		logger.Warn("REDIS_URL not set, login request budget is per instance")
	}

	clock := clockwork.NewRealClock()
	policy := services.PolicyFromConfig(cfg.Guard)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize repositories
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	blockedIPRepo := repositories.NewBlockedIPRepository(db)
	whitelistRepo := repositories.NewIPWhitelistRepository(db)
	failedJobRepo := repositories.NewFailedJobRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	retentionRepo := repositories.NewRetentionRepository(db)

	// Token manager for the trusted scheduler identity
	tokenManager := auth.NewTokenManager(cfg.Trigger.ServiceRoleSecret, 5*time.Minute)

	jobQueue := services.NewJobQueue(failedJobRepo, cfg.Jobs.DefaultMaxAttempts, clock, logger)

	// Outbound email through SES
	var emailSender services.EmailSender
	if cfg.Alerts.FromAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sender, err := services.NewSESEmailSender(ctx, cfg.Alerts.AWSRegion, cfg.Alerts.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		emailSender = sender
	} else {
		logger.Warn("EMAIL_FROM_ADDRESS not set, email jobs and alert emails are disabled")
	}

	// Alerts always reach the security log; email is added when configured
	alerts := services.MultiAlertDispatcher{services.NewLogAlertDispatcher(logger)}
	var emailAlerts *services.EmailAlertDispatcher
	if recipients := splitRecipients(cfg.Alerts.EmailTo); emailSender != nil && len(recipients) > 0 {
		emailAlerts = services.NewEmailAlertDispatcher(emailSender, jobQueue, recipients, logger)
		alerts = append(alerts, emailAlerts)
	}

	// Initialize services
	whitelistService := services.NewWhitelistService(whitelistRepo, logger)
	blocklistService := services.NewBlocklistService(blockedIPRepo, alerts, clock, logger)
	guardService := services.NewGuardService(loginAttemptRepo, whitelistService, blocklistService, policy, clock, logger)
	attemptRecorder := services.NewAttemptRecorder(loginAttemptRepo, whitelistService, alerts, policy, clock, logger)

	outbound := &http.Client{Timeout: cfg.Jobs.HandlerTimeout}
	registry := services.NewHandlerRegistry(
		services.NewEdgeFunctionHandler(outbound, cfg.Jobs.FunctionsBaseURL, tokenManager),
		services.NewNotificationJobHandler(notificationRepo),
		services.NewAPICallHandler(outbound),
	)
	if emailSender != nil {
		registry.Register(services.NewEmailJobHandler(emailSender))
	}
	scheduler := services.NewRetryScheduler(failedJobRepo, registry, alerts, services.SchedulerConfigFromConfig(cfg.Jobs), clock, logger)

	// Initialize handlers
	loginHandler := handlers.NewLoginHandler(guardService, attemptRecorder, ipConfig, logger)
	jobsHandler := handlers.NewJobsHandler(jobQueue, scheduler, logger)
	adminHandler := handlers.NewAdminHandler(whitelistService, blocklistService, logger)

	// Background work
	sweeper := background.NewRetentionSweeper(
		background.RulesFromConfig(cfg.Retention, background.Purgers{
			LoginAttempts:   loginAttemptRepo.DeleteOlderThan,
			ExpiredBlocks:   blockedIPRepo.DeleteExpired,
			Notifications:   retentionRepo.DeleteOldNotifications,
			Logs:            retentionRepo.DeleteOldLogs,
			ExpiredSessions: retentionRepo.DeleteExpiredSessions,
			TerminalJobs:    failedJobRepo.DeleteTerminalOlderThan,
		}),
		cfg.Retention.Interval,
		cfg.Retention.Timeout,
		clock,
		logger,
	)

	var retryRunner *background.RetryRunner
	if cfg.Jobs.RetryInterval > 0 {
		retryRunner = background.NewRetryRunner(scheduler, cfg.Jobs.RetryInterval, clock, logger)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.RequestLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, loginHandler, jobsHandler, adminHandler, tokenManager, loginRateLimit)

	// Health check with database and, when configured, Redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up"}
		code := http.StatusOK

		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				// Login limiting degrades to local counters, so Redis alone is not fatal
				status["redis"] = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background tasks
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go sweeper.Start(bgCtx)
	if retryRunner != nil {
		go retryRunner.Start(bgCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	bgCancel()
	sweeper.Stop()
	if retryRunner != nil {
		retryRunner.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Let in-flight alert emails finish or fall back to the queue before the pool closes
	if emailAlerts != nil {
		emailAlerts.Wait()
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitRecipients(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
