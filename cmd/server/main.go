package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/workbridge-hq/hr-portal/internal/config"
	"github.com/workbridge-hq/hr-portal/internal/handler"
	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/internal/service"
	"github.com/workbridge-hq/hr-portal/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("service", "hr-portal").
		Logger()

	// Database connection
	log.Info().Msg("Connecting to database")
	dbPool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Session store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to ping redis")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("Redis connection established")

	sessionManager := session.NewManager(
		session.NewRedisStore(redisClient),
		session.Config{
			CookieName:      cfg.SessionCookieName,
			CookieSecure:    cfg.CookieSecure,
			CookieDomain:    cfg.CookieDomain,
			IdleTimeout:     cfg.SessionIdleTimeout,
			AbsoluteTimeout: cfg.SessionAbsoluteTimeout,
		},
		log,
	)

	// Repositories
	userRepo := repository.NewUserRepository(dbPool, log)
	auditRepo := repository.NewAuditRepository(dbPool, log)

	// Services
	policy := service.Policy{
		LockoutThreshold:      cfg.LockoutThreshold,
		LockoutDuration:       cfg.LockoutDuration,
		AllowedRoles:          cfg.AllowedRoles,
		TwoFactorRoles:        cfg.TwoFactorRoles,
		RequirePasswordChange: cfg.RequirePasswordChange,
		PendingAuthTTL:        cfg.PendingAuthTTL,
		RememberTokenTTL:      cfg.RememberTokenTTL,
		RoleHomes:             cfg.RoleHomes,
	}
	authService := service.NewAuthService(userRepo, auditRepo, policy, log)
	twoFactorService := service.NewTwoFactorService(userRepo, auditRepo, cfg.TOTPIssuer, log)

	// HTTP surface
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	h := handler.NewHandler(
		authService,
		twoFactorService,
		sessionManager,
		auditRepo,
		cfg.CookieSecure,
		cfg.CookieDomain,
		cfg.RememberTokenTTL,
		log,
	)
	h.Register(router)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
