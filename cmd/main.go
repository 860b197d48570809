/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external payment provider clients, message brokers, repositories, the core application
 * service, the job scheduler, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/processor, pkg/fxclient, pkg/rabbitmq: External provider and broker clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/afripatron/payment-service/internal/api"
	"github.com/afripatron/payment-service/internal/app"
	"github.com/afripatron/payment-service/internal/config"
	"github.com/afripatron/payment-service/internal/currency"
	"github.com/afripatron/payment-service/internal/fees"
	"github.com/afripatron/payment-service/internal/fraud"
	"github.com/afripatron/payment-service/internal/risk"
	"github.com/afripatron/payment-service/internal/routing"
	"github.com/afripatron/payment-service/internal/scheduler"
	"github.com/afripatron/payment-service/internal/store"
	"github.com/afripatron/payment-service/pkg/fxclient"
	"github.com/afripatron/payment-service/pkg/processor"
	"github.com/afripatron/payment-service/pkg/processor/flutterwave"
	"github.com/afripatron/payment-service/pkg/processor/paystack"
	"github.com/afripatron/payment-service/pkg/processor/stripeprovider"
	"github.com/afripatron/payment-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing for sustained webhook and charge traffic.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for post-commit notification events.
	// Notifications degrade to a no-op when the broker is unreachable; charges
	// and ledger writes do not depend on it.
	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	defer publisher.Close()

	// Redis backs the fraud velocity counters. When it is missing the guard
	// falls back to counting from the database.
	var velocityCounter fraud.VelocityCounter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; velocity checks fall back to database\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; velocity checks fall back to database\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; velocity checks fall back to database\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				velocityCounter = fraud.NewRedisVelocityCounter(redisClient, "")
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Register the payment provider adapters.
	processors := processor.Registry{
		routing.ProviderStripe:      stripeprovider.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		routing.ProviderPaystack:    paystack.New(cfg.PaystackBaseURL, cfg.PaystackSecretKey),
		routing.ProviderFlutterwave: flutterwave.New(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey, cfg.FlutterwaveVerifHash),
	}

	// Exchange rates: seeded table at boot, refreshed from the feed when one is
	// configured.
	var fetcher currency.RateFetcher
	if cfg.FXFeedBaseURL != "" {
		fetcher = fxclient.New(cfg.FXFeedBaseURL, cfg.FXFeedAPIKey)
	} else {
		log.Println("level=warn component=bootstrap msg=\"fx feed not configured; using seeded exchange rates\" env=FX_FEED_BASE_URL")
	}
	rates := currency.NewService(fetcher)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	if fetcher != nil {
		rates.StartRefreshLoop(rootCtx, time.Duration(cfg.FXRefreshIntervalMin)*time.Minute)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	guard := fraud.NewGuard(repository, velocityCounter, fraud.Thresholds{
		VelocityPerHour:     cfg.FraudVelocityPerHour,
		FailedLockoutCount:  cfg.FraudFailedLockoutCount,
		PhoneAccountLimit:   cfg.FraudPhoneAccountLimit,
		PhoneChargesPerHour: cfg.FraudPhoneChargesPerHour,
	})

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(
		repository,
		guard,
		routing.NewRouter(),
		fees.NewCalculator(repository, cfg.DefaultPlatformFeePercent),
		rates,
		risk.NewEngine(repository),
		processors,
		publisher,
		cfg.ReferralCreditPercent,
		time.Duration(cfg.SubscriptionTermDays)*24*time.Hour,
	)

	// Start the scheduled jobs: renewals, grace expiry and risk recompute.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := scheduler.NewJobs(
		repository,
		paymentService,
		paymentService.RiskEngine(),
		slogger,
		cfg.RenewalBatchSize,
		time.Duration(cfg.GracePeriodHours)*time.Hour,
	)
	jobScheduler := scheduler.NewScheduler(jobs, slogger, cfg)
	jobScheduler.Start()
	defer func() { <-jobScheduler.Stop().Done() }()

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(paymentHandlers, cfg.AuthJWKSURL, cfg.AdminAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
