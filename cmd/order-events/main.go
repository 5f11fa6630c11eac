package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-saga/internal/config"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orderevents"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "order-events"
	}
	log := telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer setup", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Error("redis unavailable", "err", err)
		os.Exit(1)
	}

	svc := orderevents.NewService(redisx.NewDeduper(rdb, cfg.OrderEventsGroup), log)

	// One consumer per lifecycle topic, all in the same group.
	var wg sync.WaitGroup
	for _, topic := range orders.Topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.OrderEventsGroup, topic, cfg.OrderEventsWorkers)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("consumer started", "group", cfg.OrderEventsGroup, "topic", cons.Topic(), "workers", cfg.OrderEventsWorkers)
			if err := cons.Start(ctx, svc.HandleEvent); err != nil {
				log.Error("consumer exit", "topic", cons.Topic(), "err", err)
				cancel()
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers")
	cancel()
	wg.Wait()
	_ = shutdownTracer(context.Background())
}
