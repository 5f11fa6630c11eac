package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/catalog"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		fatal(log, "tracer setup", err)
	}
	shutdownMeter, err := telemetry.SetupMeter(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		fatal(log, "meter setup", err)
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		fatal(log, "db connect", err)
	}
	defer db.Close()
	if cfg.ApplySchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			fatal(log, "apply schema", err)
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable, order views will not be cached", "err", err)
	}

	// Kafka producer
	var opts []orders.Option
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024)
		prod.Start(ctx)
		opts = append(opts, orders.WithPublisher(orders.NewKafkaPublisher(prod, cfg.ServiceName)))
	}

	if cfg.ServiceTokenSecret == "" {
		fatal(log, "config", errors.New("SERVICE_TOKEN_SECRET is required"))
	}
	secret := []byte(cfg.ServiceTokenSecret)
	custs := customers.NewClient(cfg.CustomersAPIURL,
		auth.NewIssuer(secret, cfg.ServiceName, cfg.ServiceTokenTTL), cfg.OutboundTimeout)

	opts = append(opts, orders.WithGraceWindow(cfg.CancelGraceWindow), orders.WithLogger(log))
	orderSvc := orders.NewService(postgres.NewOrderStore(db), custs, opts...)
	productSvc := catalog.NewService(postgres.NewProductStore(db))

	router := httpx.NewRouter(cfg.ServiceName, log)
	oh := &httpx.OrdersHandler{Service: orderSvc, Cache: redisx.NewOrderCache(rdb), Log: log}
	ph := &httpx.ProductsHandler{Service: productSvc, Log: log}
	router.Route("/api/orders", func(r chi.Router) {
		if cfg.RequireServiceAuth {
			r.Use(auth.Gate(secret, nil))
		}
		oh.Register(r)
	})
	router.Route("/api/products", ph.Register)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "grace_window", orderSvc.GraceWindow().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "listen", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	cancel()
	if err := shutdownTracer(ctx2); err != nil {
		log.Warn("tracer shutdown", "err", err)
	}
	if err := shutdownMeter(ctx2); err != nil {
		log.Warn("meter shutdown", "err", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
