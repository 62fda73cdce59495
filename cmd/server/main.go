package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/PortNumber53/beat-storefront/backend/internal/assets"
	"github.com/PortNumber53/beat-storefront/backend/internal/checkout"
	"github.com/PortNumber53/beat-storefront/backend/internal/config"
	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/fulfillment"
	"github.com/PortNumber53/beat-storefront/backend/internal/httpserver"
	"github.com/PortNumber53/beat-storefront/backend/internal/middleware"
	"github.com/PortNumber53/beat-storefront/backend/internal/migrations"
	"github.com/PortNumber53/beat-storefront/backend/internal/notify"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
	"github.com/PortNumber53/beat-storefront/backend/internal/stripe"
	"github.com/PortNumber53/beat-storefront/backend/internal/webhook"
	"github.com/PortNumber53/beat-storefront/backend/internal/worker"
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
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("refusing to start: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	log.Printf("db(primary): %s", cfg.DatabaseTarget())
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to create job store: %v", err)
	}

	urls, err := assets.NewURLBuilder(cfg.AssetBaseURL)
	if err != nil {
		log.Fatalf("invalid asset base url: %v", err)
	}

	var stripeOpts []stripe.Option
	if cfg.StripeAPIBase != "" {
		stripeOpts = append(stripeOpts, stripe.WithBaseURL(cfg.StripeAPIBase))
	}
	paymentClient := stripe.NewClient(cfg.StripeSecretKey, stripeOpts...)

	couponEngine := coupons.NewEngine(st)
	manifests := fulfillment.NewService(st, urls)
	notifier, closeNotifier := newNotifier(cfg)
	defer closeNotifier()

	initiator := checkout.NewInitiator(st, st, couponEngine, paymentClient, urls, checkout.Config{
		Currency:   cfg.Currency,
		SuccessURL: cfg.SuccessURL(),
		CancelURL:  cfg.CancelURL(),
	})

	processor := webhook.NewProcessor(webhook.Config{
		Secret:  cfg.StripeWebhookSecret,
		Timeout: cfg.WebhookTimeout,
	}, st, manifests, couponEngine, notifier)

	jobWorker := worker.New(worker.DefaultConfig(), jobStore)
	worker.RegisterDeliveryJobs(jobWorker, st, notifier)

	srv := httpserver.New(cfg, httpserver.Deps{
		DB:       st,
		Checkout: initiator,
		Coupons:  couponEngine,
		Sessions: st,
		Jobs:     jobStore,
		Webhook:  processor,
		Limiter:  newLimiter(cfg),
		Worker:   jobWorker,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("backend starting on %s", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
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

	log.Printf("migrations(%s): dirty database detected, attempting to fix: %v", name, err)
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
		return err
	}
	return migrations.Up(db)
}

func newNotifier(cfg config.Config) (notify.Notifier, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Printf("notify: KAFKA_BROKERS not set; delivery manifests will only be logged")
		return notify.LogNotifier{}, func() {}
	}
	n := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaDeliveryTopic)
	log.Printf("notify: publishing delivery manifests to %s", cfg.KafkaDeliveryTopic)
	return n, func() {
		if err := n.Close(); err != nil {
			log.Printf("notify: close kafka writer: %v", err)
		}
	}
}

func newLimiter(cfg config.Config) middleware.Limiter {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(cfg.RateLimitPerMinute, 10000)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("ratelimit: invalid REDIS_URL (%v); using in-memory limiter", err)
		return middleware.NewMemoryLimiter(cfg.RateLimitPerMinute, 10000)
	}
	log.Printf("ratelimit: using redis at %s", opts.Addr)
	return middleware.NewRedisLimiter(redis.NewClient(opts), cfg.RateLimitPerMinute)
}
