/**
 * @description
 * Entry point for the notification-service. It consumes transaction and
 * account-status events, records an in-app notification per event, and serves
 * each user's notification feed over HTTP.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5 (+pgxpool): PostgreSQL access.
 * - github.com/rabbitmq/amqp091-go (via pkg/rabbitmq): event consumption.
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

	"github.com/finverse/banking-platform/internal/api"
	"github.com/finverse/banking-platform/internal/config"
	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/notification"
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

	log.Printf("level=info component=bootstrap msg=\"starting notification-service\" port=%s", cfg.ServerPort)

	dbpool := mustOpenPool(cfg.DatabaseURL)
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	notificationRepo := store.NewPostgresNotificationRepository(dbpool)
	dedupRepo := store.NewPostgresDedupRepository(dbpool)
	service := notification.NewService(notificationRepo)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer consumer.Close()

	dispatcher := service.NewDispatcher(dedupRepo)
	err = consumer.ConsumeWithBindings(cfg.EventExchange, cfg.NotificationEventQueue, map[string]rabbitmq.Handler{
		"transaction.*":                      dispatcher.HandleMessage,
		domain.EventTypeAccountStatusChanged: dispatcher.HandleMessage,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"queue binding failed\" queue=%s err=%v", cfg.NotificationEventQueue, err)
	}
	log.Printf("level=info component=bootstrap msg=\"consuming platform events\" queue=%s", cfg.NotificationEventQueue)

	handlers := api.NewNotificationHandlers(service)
	router := api.NotificationRoutes(handlers, api.RouterOptions{JWTSecret: cfg.JWTSecret})

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
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	return dbpool
}
