package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/config"
	kafkax "github.com/ariefcatur/go-stripe-orders/internal/kafka"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/projector"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logx.New(cfg.ServiceName+"-projector", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Service
	svc := &projector.Service{
		Ledger:    &redisx.Ledger{Redis: rdb, Scope: "projector"},
		Statuses:  &redisx.StatusCache{Redis: rdb},
		Unmatched: &redisx.Queue{Redis: rdb, Key: redisx.KeyUnmatched},
		Orphaned:  &redisx.Queue{Redis: rdb, Key: redisx.KeyOrphaned},
		Log:       log,
	}

	// Consumers: satu per topic, group yang sama
	topics := []string{
		orders.TopicOrderCreated,
		orders.TopicOrderStatusChanged,
		orders.TopicPaymentUnmatched,
		orders.TopicCheckoutOrphaned,
	}
	var wg sync.WaitGroup
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, topic, cfg.ProjectorWorkers, log)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Info("projector consumer started",
				zap.String("group", cfg.ProjectorGroup), zap.String("topic", topic), zap.Int("workers", cfg.ProjectorWorkers))
			if err := cons.Start(ctx, svc.Handle); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers")
	cancel()
	wg.Wait()
}
