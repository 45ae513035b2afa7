package main

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/checkout"
	"github.com/ariefcatur/go-flashsale-orders/internal/config"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/httpx"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-flashsale-orders/internal/kafka"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/postgres"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/ariefcatur/go-flashsale-orders/internal/tracing"
	"github.com/joho/godotenv"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	log := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	defer cancel()

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, satu untuk semua topic lifecycle
	prod := kafkax.NewProducer(ctx, cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// Services
	stockStore := &inventory.Store{DB: db}
	ledger := inventory.NewLedger(rdb, stockStore)
	repo := &orders.Repo{DB: db}
	svc := &checkout.Service{
		Ledger:     ledger,
		Coupons:    coupons.NewManager(rdb, &coupons.Store{DB: db}),
		Orders:     repo,
		Limiter:    &redisx.RateLimiter{Redis: rdb, Window: cfg.OrderRateLimit},
		Redis:      rdb,
		Events:     prod,
		Name:       cfg.ServiceName,
		LockWindow: cfg.LockWindow,
	}

	router := httpx.NewRouter(log,
		func(ctx context.Context) error { return db.Ping(ctx) },
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)
	(&httpx.OrdersHandler{Orders: svc, SKUs: repo}).Register(router)
	(&httpx.CatalogHandler{Products: repo, Ledger: ledger, Redis: rdb}).Register(router)
	(&httpx.AdminHandler{
		Stock:    &inventory.Service{Ledger: ledger, Store: stockStore},
		Products: repo,
		Orders:   svc,
		Redis:    rdb,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}
