package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pvb1971/eezyspaza-backend/internal/config"
	"github.com/pvb1971/eezyspaza-backend/internal/httpx"
	kafkax "github.com/pvb1971/eezyspaza-backend/internal/kafka"
	"github.com/pvb1971/eezyspaza-backend/internal/metrics"
	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
	"github.com/pvb1971/eezyspaza-backend/internal/postgres"
	"github.com/pvb1971/eezyspaza-backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.RequireSecrets(); err != nil {
		log.Fatalf("config: %v", err)
	}

	verifier, err := payment.NewWebhookVerifier(cfg.WebhookSecret)
	if err != nil {
		log.Fatalf("webhook secret: %v", err)
	}

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pOpened := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicCheckoutOpened, 1024)
	pOpened.Start(ctx)
	pPaid := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPaid, 1024)
	pPaid.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFailed, 1024)
	pFailed.Start(ctx)

	repo := &orders.Repo{DB: db}
	provider := payment.NewClient(cfg.PaymentAPIBase, cfg.PaymentSecretKey)

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{
		Store:    repo,
		Provider: provider,
		Redis:    rdb,
		Opened:   pOpened,
		Service:  cfg.ServiceName,
	}).Register(router)
	(&httpx.WebhookHandler{
		Store:    repo,
		Verifier: verifier,
		Redis:    rdb,
		Paid:     pPaid,
		Failed:   pFailed,
		Service:  cfg.ServiceName,
	}).Register(router)
	(&httpx.RedirectHandler{
		Store:    repo,
		Provider: provider,
	}).Register(router)

	// Sweep orders that never got a live session or expired unpaid.
	go func() {
		tick := time.NewTicker(5 * time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n, err := repo.SweepStalePending(ctx, cfg.PendingTTL)
				if err != nil {
					log.Printf("pending sweep: %v", err)
				} else if n > 0 {
					log.Printf("pending sweep: failed %d stale orders", n)
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pOpened.Close()
	pPaid.Close()
	pFailed.Close()
	cancel()
	pOpened.WaitClosed()
	pPaid.WaitClosed()
	pFailed.WaitClosed()
}
