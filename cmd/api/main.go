package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/passlane/pass-redemption/internal/config"
	"github.com/passlane/pass-redemption/internal/handler"
	"github.com/passlane/pass-redemption/internal/mailer"
	"github.com/passlane/pass-redemption/internal/pass"
	"github.com/passlane/pass-redemption/internal/repository"
	"github.com/passlane/pass-redemption/internal/service"
	"github.com/passlane/pass-redemption/internal/token"
	"github.com/passlane/pass-redemption/internal/validator"
	"github.com/passlane/pass-redemption/pkg/database"
)

func main() {
	// Load configuration first; Load also validates required secrets, so a
	// missing webhook secret or signing key aborts here.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Credential minting and pass signing material load up front so bad
	// paths or keys fail at startup.
	tokenManager, err := token.NewManager(cfg.Token.SigningKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential manager")
	}

	passProducer, err := pass.NewPKPassProducer(pass.Config{
		CertPath:    cfg.Pass.CertPath,
		KeyPath:     cfg.Pass.KeyPath,
		AssetDir:    cfg.Pass.AssetDir,
		OrgName:     cfg.Pass.OrgName,
		PassTypeID:  cfg.Pass.PassTypeID,
		TeamID:      cfg.Pass.TeamID,
		Description: cfg.Pass.Description,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pass producer")
	}

	var codeMailer service.Mailer = mailer.NoopMailer{}
	if cfg.SMTP.Enabled() {
		codeMailer = mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
	} else {
		log.Warn().Msg("smtp not configured, redemption codes will not be emailed")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Pass Redemption Service",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (Stripe events stay well under this)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator
	validate := validator.New()

	// Initialize redemption components (layered architecture)
	codeRepo := repository.NewCodeRepository(pool)
	redemptionService := service.NewRedemptionService(codeRepo, codeMailer, tokenManager, service.Options{
		CodeLength: cfg.Code.Length,
		CodeTTL:    time.Duration(cfg.Code.TTLHours) * time.Hour,
		TokenTTL:   time.Duration(cfg.Token.TTLSeconds) * time.Second,
	})
	webhookHandler := handler.NewWebhookHandler(redemptionService, cfg.Stripe.WebhookSecret)
	redeemHandler := handler.NewRedeemHandler(redemptionService, validate, redemptionService.TokenTTL())
	downloadHandler := handler.NewDownloadHandler(tokenManager, passProducer)

	// Health handler
	healthHandler := handler.NewHealthHandler(pool)
	app.Get("/health", healthHandler.Check)

	// Redemption routes
	app.Post("/api/stripe/webhook", webhookHandler.HandleStripeEvent)
	app.Post("/api/redeem", redeemHandler.RedeemCode)
	app.Get("/api/pass", downloadHandler.DownloadPass)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
