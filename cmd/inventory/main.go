package main

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/checkout"
	"github.com/ariefcatur/go-flashsale-orders/internal/config"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-flashsale-orders/internal/kafka"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/ariefcatur/go-flashsale-orders/internal/postgres"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/ariefcatur/go-flashsale-orders/internal/tracing"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Worker process: reconciler, order lock reaper, and payment consumer.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	name := cfg.ServiceName + "-inventory"
	log := logx.New(name, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	ctx, stop := signal.NotifyContext(log.WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(name, cfg.JaegerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer untuk OrderExpired, OrderPaid, dan alert reconcile.
	// Context terpisah supaya event terakhir tetap ter-flush setelah signal.
	prodCtx, prodCancel := context.WithCancel(log.WithContext(context.Background()))
	defer prodCancel()
	prod := kafkax.NewProducer(prodCtx, cfg.KafkaBrokers, 1024)
	prod.Start(prodCtx)

	stockStore := &inventory.Store{DB: db}
	svc := &checkout.Service{
		Ledger:     inventory.NewLedger(rdb, stockStore),
		Coupons:    coupons.NewManager(rdb, &coupons.Store{DB: db}),
		Orders:     &orders.Repo{DB: db},
		Redis:      rdb,
		Events:     prod,
		Name:       name,
		LockWindow: cfg.LockWindow,
	}

	rec := inventory.NewReconciler(stockStore, cfg.ReconcileInterval, cfg.ReconcileMaxRetries, cfg.ReconcileBackoff)
	rec.OnFailure = func(ctx context.Context, f inventory.ReconciliationFailure) {
		payload := orders.ReconcileFailedPayload{ProductID: f.ProductID, Attempts: f.Attempts, Reason: f.Error()}
		if err := orders.Emit(prod, name, f.ProductID, tracing.TraceID(ctx), orders.EventReconcileFailed, payload); err != nil {
			logx.Ctx(ctx).Error().Err(err).Str("product_id", f.ProductID).Msg("emit reconcile alert")
		}
	}
	reaper := checkout.NewReaper(svc, cfg.ReaperInterval, cfg.ReaperBatch)
	payments := &checkout.PaymentHandler{Service: svc, Redis: rdb}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentGroup, orders.TopicPaymentAuthorized, cfg.PaymentWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("group", cfg.PaymentGroup).Str("topic", orders.TopicPaymentAuthorized).Int("workers", cfg.PaymentWorkers).Msg("payment consumer started")
		return cons.Start(gctx, payments.Handle)
	})
	g.Go(func() error {
		// alert channel, kalau tidak dibaca pesan di-drop
		for {
			select {
			case <-gctx.Done():
				return nil
			case f := <-rec.Errors():
				log.Warn().Str("product_id", f.ProductID).Int("attempts", f.Attempts).Msg("reconciliation failure drained")
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker exit")
	}
	log.Info().Msg("shutting down workers...")

	prod.Close()
	prod.WaitClosed()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}
