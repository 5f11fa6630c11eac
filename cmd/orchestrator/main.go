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

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/ariefcatur/go-order-saga/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "orchestrator"
	}
	if os.Getenv("HTTP_ADDR") == "" {
		cfg.HTTPAddr = ":8082"
	}
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
	if cfg.ServiceTokenSecret == "" {
		fatal(log, "config", errors.New("SERVICE_TOKEN_SECRET is required"))
	}

	tokens := auth.NewIssuer([]byte(cfg.ServiceTokenSecret), cfg.ServiceName, cfg.ServiceTokenTTL)
	orchestrator := saga.NewOrchestrator(
		customers.NewClient(cfg.CustomersAPIURL, tokens, cfg.OutboundTimeout),
		saga.NewOrdersClient(cfg.OrdersAPIURL, tokens, cfg.OutboundTimeout),
		log,
	)

	router := httpx.NewRouter(cfg.ServiceName, log)
	router.Route("/api/orchestrate", (&httpx.OrchestratorHandler{Saga: orchestrator, Log: log}).Register)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "orders_api", cfg.OrdersAPIURL, "customers_api", cfg.CustomersAPIURL)
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
