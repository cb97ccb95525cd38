package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pvb1971/eezyspaza-backend/internal/config"
	kafkax "github.com/pvb1971/eezyspaza-backend/internal/kafka"
	"github.com/pvb1971/eezyspaza-backend/internal/notify"
	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	n := notify.New(rdb, cfg.NotifyURL)

	group := getenv("NOTIFIER_GROUP", "order-notifier")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")

	for _, topic := range []string{orders.TopicOrderPaid, orders.TopicOrderFailed} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers)
		go func(topic string, cons *kafkax.Consumer) {
			log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, topic, workers)
			if err := cons.Start(ctx, n.HandleOrderEvent); err != nil {
				log.Printf("consumer %s exit: %v", topic, err)
				cancel()
			}
		}(topic, cons)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down notifier...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
