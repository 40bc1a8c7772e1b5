/**
 * @description
 * Entry point for the transaction-service: the platform's write path. It
 * hosts the command API (deposits, withdrawals, transfers) and runs the
 * outbox relay that drains committed events to the bus. The caller's latency
 * never depends on bus availability; only the relay talks to RabbitMQ.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5 (+pgxpool): PostgreSQL access.
 * - github.com/go-chi/chi/v5: HTTP routing.
 * - The service's internal packages for config, commands, storage, and the bus.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/finverse/banking-platform/internal/api"
	"github.com/finverse/banking-platform/internal/app"
	"github.com/finverse/banking-platform/internal/config"
	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
	"github.com/finverse/banking-platform/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transaction-service\" port=%s", cfg.ServerPort)

	dbpool := mustOpenPool(cfg.DatabaseURL)
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	producer, err := rabbitmq.NewProducer(cfg.RabbitMQURL, cfg.EventExchange)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq producer init failed\" err=%v", err)
	}
	defer producer.Close()
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")

	var limiter *app.RedisCommandRateLimiter
	if cfg.CommandRateLimitPerMinute > 0 && cfg.RedisURL != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisCommandRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	ledgerRepo := store.NewPostgresLedgerRepository(dbpool)
	outboxRepo := store.NewPostgresOutboxRepository(dbpool)

	commands := app.NewCommandHandler(ledgerRepo, domain.DefaultPolicies())
	commands.Configure(cfg.CommandMaxRetries, time.Duration(cfg.StorageTimeoutMillis)*time.Millisecond)

	relay := app.NewOutboxRelay(outboxRepo, producer)
	relay.Configure(
		cfg.OutboxBatchSize,
		time.Duration(cfg.OutboxPollIntervalMillis)*time.Millisecond,
		time.Duration(cfg.OutboxStaleProcessingSecs)*time.Second,
		cfg.OutboxMaxAttempts,
	)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go relay.Run(relayCtx)
	log.Println("level=info component=bootstrap msg=\"outbox relay started\"")

	handlers := api.NewTransactionHandlers(commands)
	router := api.TransactionRoutes(handlers, api.RouterOptions{
		JWTSecret:          cfg.JWTSecret,
		RateLimiter:        limiter,
		RateLimitPerMinute: cfg.CommandRateLimitPerMinute,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{Addr: serverAddr, Handler: router}
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopRelay()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func mustOpenPool(databaseURL string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	return dbpool
}
