package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/marketplace-backend/internal/access"
	"github.com/PortNumber53/marketplace-backend/internal/config"
	"github.com/PortNumber53/marketplace-backend/internal/filestore"
	"github.com/PortNumber53/marketplace-backend/internal/handlers"
	"github.com/PortNumber53/marketplace-backend/internal/httpserver"
	"github.com/PortNumber53/marketplace-backend/internal/ledger"
	"github.com/PortNumber53/marketplace-backend/internal/middleware"
	"github.com/PortNumber53/marketplace-backend/internal/migrations"
	"github.com/PortNumber53/marketplace-backend/internal/paypal"
	"github.com/PortNumber53/marketplace-backend/internal/signature"
	"github.com/PortNumber53/marketplace-backend/internal/store"
	"github.com/PortNumber53/marketplace-backend/internal/stripe"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	configureLogging(cfg)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	srv, err := buildServer(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble server")
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.ServerAddress).Msg("backend starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

// buildServer wires provider clients, the ledger and the routes once at startup.
func buildServer(ctx context.Context, cfg config.Config, db *sql.DB) (*httpserver.Server, error) {
	purchases, err := store.New(db)
	if err != nil {
		return nil, err
	}
	catalog, err := store.NewCatalogStore(db)
	if err != nil {
		return nil, err
	}

	l, err := ledger.New(purchases, catalog)
	if err != nil {
		return nil, err
	}
	resolver, err := access.NewResolver(purchases)
	if err != nil {
		return nil, err
	}

	stripeClient := stripe.NewClient(cfg.Stripe.SecretKey, cfg.ExternalAPITimeout)
	paypalClient := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Mode:         cfg.PayPal.Mode,
		WebhookID:    cfg.PayPal.WebhookID,
		Timeout:      cfg.ExternalAPITimeout,
	})
	warnUnconfigured(cfg)

	var files handlers.DownloadSigner
	presigner, err := filestore.NewPresigner(ctx, filestore.Config{
		Bucket:          cfg.Download.Bucket,
		Region:          cfg.Download.Region,
		Endpoint:        cfg.Download.Endpoint,
		AccessKeyID:     cfg.Download.AccessKeyID,
		SecretAccessKey: cfg.Download.SecretAccessKey,
		URLTTL:          cfg.Download.URLTTL,
	})
	switch {
	case err == nil:
		files = presigner
	case errors.Is(err, filestore.ErrNotConfigured):
		log.Warn().Msg("DOWNLOAD_BUCKET not set; downloads are disabled")
	default:
		return nil, err
	}

	return httpserver.New(cfg, httpserver.Dependencies{
		DB:            db,
		Auth:          middleware.NewAuthenticator(cfg.JWTSecret),
		StripeWebhook: handlers.NewStripeWebhook(signature.NewStripeVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance), l),
		PayPalWebhook: handlers.NewPayPalWebhook(paypalClient, l),
		Ingest:        catalog,
		Checkout:      handlers.NewCheckoutHandler(catalog, stripeClient, paypalClient, cfg.AppURL),
		Marketplace:   handlers.NewMarketplaceHandler(catalog, resolver, files, purchases),
	}), nil
}

func configureLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func warnUnconfigured(cfg config.Config) {
	missing := map[string]bool{
		"STRIPE_SECRET_KEY":     cfg.Stripe.SecretKey == "",
		"STRIPE_WEBHOOK_SECRET": cfg.Stripe.WebhookSecret == "",
		"PAYPAL_CLIENT_ID":      cfg.PayPal.ClientID == "",
		"PAYPAL_CLIENT_SECRET":  cfg.PayPal.ClientSecret == "",
		"PAYPAL_WEBHOOK_ID":     cfg.PayPal.WebhookID == "",
		"INGEST_HMAC_SECRET":    cfg.IngestHMACSecret == "",
		"SUPABASE_JWT_SECRET":   cfg.JWTSecret == "",
	}
	for key, isMissing := range missing {
		if isMissing {
			log.Warn().Str("setting", key).Msg("not configured; dependent endpoints will refuse requests")
		}
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	err := migrations.Up(db)
	if err == nil {
		return nil
	}
	if !migrations.IsDirty(err) {
		return err
	}

	log.Warn().Str("db", name).Err(err).Msg("dirty database detected, attempting to fix")
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Error().Str("db", name).Err(fixErr).Msg("failed to fix dirty database")
		return err
	}
	return migrations.Up(db)
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info().Str("db", name).Err(err).Msg("database configured (dsn parse error)")
		return
	}
	log.Info().Str("db", name).Str("host", u.Hostname()).Str("database", strings.TrimPrefix(u.Path, "/")).Msg("database target")
}
