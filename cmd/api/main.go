package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/auth"
	"github.com/ariefcatur/go-stripe-orders/internal/config"
	"github.com/ariefcatur/go-stripe-orders/internal/events"
	"github.com/ariefcatur/go-stripe-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-stripe-orders/internal/kafka"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
	"github.com/ariefcatur/go-stripe-orders/internal/metrics"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/postgres"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
	"github.com/ariefcatur/go-stripe-orders/internal/stripex"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("files", applied))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	statuses := &redisx.StatusCache{Redis: rdb}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	domain := metrics.NewDomain(reg, "api")

	notifier := orders.Notifiers{
		&events.Publisher{Producer: prod, Service: cfg.ServiceName, Log: log},
		&redisx.Invalidator{Cache: statuses, Log: log},
		domain,
	}

	// Repo & handler
	repo := &orders.Repo{DB: db}
	tokens := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	api := &httpx.API{
		Auth:     &auth.Service{Users: &auth.UserRepo{DB: db}, Tokens: tokens, Log: log},
		Tokens:   tokens,
		Products: repo,
		Checkout: &orders.Checkout{
			Store:    repo,
			Catalog:  repo,
			Payments: stripex.New(cfg.StripeSecretKey),
			Notifier: notifier,
			Log:      log,
			Currency: cfg.Currency,
			Timeout:  cfg.UpstreamTimeout,
		},
		Refunds: &orders.Refunds{Store: repo, Notifier: notifier, Log: log},
		Queries: &orders.Queries{Store: repo},
		Reconciler: &orders.Reconciler{
			Store:    repo,
			Verifier: stripex.WebhookVerifier{Secret: cfg.StripeWebhookSecret},
			Ledger:   &redisx.Ledger{Redis: rdb, Scope: "webhook"},
			Notifier: notifier,
			Log:      log,
		},
		Statuses: statuses,
		Outcomes: domain,
		Log:      log,
	}
	router := httpx.NewRouter(log, metrics.NewServerMetrics(reg, "api"), reg)
	api.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
