package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samandr77/microservices/billing/internal/api"
	"github.com/samandr77/microservices/billing/internal/api/events"
	"github.com/samandr77/microservices/billing/internal/clients/razorpay"
	"github.com/samandr77/microservices/billing/internal/repository"
	"github.com/samandr77/microservices/billing/internal/service"
	"github.com/samandr77/microservices/billing/pkg/broker"
	"github.com/samandr77/microservices/billing/pkg/cache"
	"github.com/samandr77/microservices/billing/pkg/config"
	"github.com/samandr77/microservices/billing/pkg/job"
	"github.com/samandr77/microservices/billing/pkg/logger"
	"github.com/samandr77/microservices/billing/pkg/postgres"
)

const (
	ReadTimeout     = 3 * time.Second
	WriteTimeout    = 15 * time.Second
	ShutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New(".env")
	panicOnErr("load config", err)

	l, err := logger.New(cfg.Logger.Level)
	panicOnErr("create logger", err)

	pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConn)
	panicOnErr("connect to postgres", err)
	defer pool.Close()

	err = postgres.UpMigrations(ctx, pool)
	panicOnErr("up migrations", err)

	repo := repository.New(pool)

	gateway := razorpay.NewClient(cfg.Razorpay)
	signatures := razorpay.NewSignatures(cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret)

	ledgerProducer := broker.NewProducer(l, cfg.Kafka.Brokers, cfg.Kafka.LedgerTopic, true)
	defer ledgerProducer.Close()

	s := service.New(service.Config{
		AllowOverpayment:    cfg.Payments.AllowOverpayment,
		CreateOrderAttempts: cfg.Payments.CreateOrderAttempts,
		RetryBaseDelay:      cfg.Payments.RetryBaseDelay,
		PendingOrderAge:     cfg.Payments.PendingOrderAge,
		ReconcileWindow:     cfg.Payments.ReconcileWindow,
		OrderTTL:            cfg.Payments.OrderTTL,
	}, repo, gateway, signatures, ledgerProducer)

	if cfg.Redis.Addr != "" {
		redisClient, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		panicOnErr("connect to redis", err)
		defer redisClient.Close()

		s.WithEventWindow(cache.NewEventWindow(redisClient, cfg.Webhook.DedupTTL))
	}

	if cfg.Webhook.AsyncEnabled {
		webhookProducer := broker.NewProducer(l, cfg.Kafka.Brokers, cfg.Kafka.WebhookTopic, false)
		defer webhookProducer.Close()

		s.WithWebhookQueue(webhookProducer)

		eventHandler := events.NewEventHandler(s)

		retryProducer := broker.NewProducer(l, cfg.Kafka.Brokers, cfg.Kafka.RetryTopic, false)
		defer retryProducer.Close()

		dlqProducer := broker.NewProducer(l, cfg.Kafka.Brokers, cfg.Kafka.DLQTopic, false)
		defer dlqProducer.Close()

		router := broker.NewRouter().
			Handle(cfg.Kafka.WebhookTopic, eventHandler.OnWebhook).
			Handle(cfg.Kafka.RetryTopic, eventHandler.OnWebhook).
			WithRetry(cfg.Webhook.ConsumerRetries, cfg.Webhook.ConsumerDelay).
			WithRedelivery(retryProducer, dlqProducer, cfg.Webhook.RedeliveryAttempts, cfg.Webhook.RedeliveryDelay)

		// Parked events wait for their delay on a reader of their own so fresh events keep flowing.
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, router, cfg.Kafka.WebhookTopic).
			Consume(ctx)
		defer consumer.Close()

		retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID+".retry", router, cfg.Kafka.RetryTopic).
			Consume(ctx)
		defer retryConsumer.Close()
	}

	jobs := job.NewService().
		RegisterJob("reconcile pending orders", cfg.Jobs.ReconcileInterval, s.ReconcilePendingOrders).
		WithTimeout(cfg.Jobs.ReconcileTimeout).
		RegisterJob("expire stale orders", cfg.Jobs.ExpireInterval, s.ExpireStaleOrders)
	jobs.Start(ctx)

	handler := api.NewHandler(s)
	mw := api.NewMiddleware(cfg.HTTP.AuthEnabled, cfg.HTTP.APIKey, cfg.HTTP.JWTSecret)

	router := api.NewRouter(handler, mw)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panicf("listen and serve: %s", err)
		}
	}()

	slog.InfoContext(ctx, "service started", "port", cfg.HTTP.Port)

	wg.Add(1)

	go func() {
		defer wg.Done()

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
		sig := <-ch

		slog.InfoContext(ctx, "got OS signal", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer shutdownCancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			slog.ErrorContext(ctx, "server shutdown", "error", err)
		}

		cancel()
		jobs.Stop()
	}()

	wg.Wait()
}

func panicOnErr(msg string, err error) {
	if err != nil {
		log.Panicf("%s: %s", msg, err)
	}
}
