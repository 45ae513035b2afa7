package inventory

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
	"github.com/ariefcatur/go-flashsale-orders/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"time"
)

// DurableStore is the slice of Store the reconciler needs.
type DurableStore interface {
	LoadQuantity(ctx context.Context, productID string) (int, int64, error)
	CompareAndSet(ctx context.Context, productID string, expectedVersion int64, newQty int, intentIDs []int64) error
	PendingProducts(ctx context.Context, limit int) ([]string, error)
	PendingIntents(ctx context.Context, productID string) ([]Intent, error)
}

// FailureNotifier receives reconciliation failures, e.g. to publish an alert event.
type FailureNotifier func(ctx context.Context, f ReconciliationFailure)

// Reconciler folds pending stock intents into the durable stock rows.
type Reconciler struct {
	Store      DurableStore
	Interval   time.Duration
	MaxRetries int
	Backoff    time.Duration
	BatchSize  int
	OnFailure  FailureNotifier

	errs  chan ReconciliationFailure
	sleep func(context.Context, time.Duration) error
}

func NewReconciler(store DurableStore, interval time.Duration, maxRetries int, backoff time.Duration) *Reconciler {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Reconciler{
		Store:      store,
		Interval:   interval,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		BatchSize:  500,
		errs:       make(chan ReconciliationFailure, 64),
		sleep:      sleepCtx,
	}
}

// Errors is the operational alert channel. Failures are dropped when nobody
// drains it fast enough; they are always logged and counted.
func (r *Reconciler) Errors() <-chan ReconciliationFailure { return r.errs }

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	log := logx.Ctx(ctx)
	log.Info().Dur("interval", r.Interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler stopped")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("reconcile pass")
			}
		}
	}
}

// RunOnce drains one batch of products and returns how many were reconciled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.Tracer("inventory").Start(ctx, "reconciler.RunOnce")
	defer span.End()

	products, err := r.Store.PendingProducts(ctx, r.BatchSize)
	if err != nil {
		tracing.Fail(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("products", len(products)))

	done := 0
	for _, pid := range products {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := r.ReconcileProduct(ctx, pid); err != nil {
			var f ReconciliationFailure
			if errors.As(err, &f) {
				r.fail(ctx, f)
				continue
			}
			return done, err
		}
		done++
	}
	return done, nil
}

// ReconcileProduct applies all pending intents of one product with
// optimistic concurrency, re-reading on every conflict.
func (r *Reconciler) ReconcileProduct(ctx context.Context, productID string) error {
	log := logx.Ctx(ctx).With().Str("product_id", productID).Logger()
	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		intents, err := r.Store.PendingIntents(ctx, productID)
		if err != nil {
			return err
		}
		if len(intents) == 0 {
			return nil
		}
		delta := 0
		ids := make([]int64, 0, len(intents))
		for _, in := range intents {
			delta += in.Delta
			ids = append(ids, in.ID)
		}

		qty, version, err := r.Store.LoadQuantity(ctx, productID)
		if err != nil {
			return err
		}
		next := qty + delta
		if next < 0 {
			return ReconciliationFailure{ProductID: productID, Attempts: attempt, Err: ErrNegativeStock}
		}

		err = r.Store.CompareAndSet(ctx, productID, version, next, ids)
		if err == nil {
			metrics.ReconcileApplied.Add(float64(len(ids)))
			log.Debug().Int("intents", len(ids)).Int("delta", delta).Int("quantity", next).Int64("version", version+1).Msg("stock reconciled")
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		metrics.ReconcileConflicts.Inc()
		lastErr = err
		log.Debug().Int("attempt", attempt).Msg("version conflict, retrying")
		if attempt < r.MaxRetries {
			// 10ms, 20ms, 40ms ...
			sleep := r.sleep
			if sleep == nil {
				sleep = sleepCtx
			}
			if err := sleep(ctx, r.Backoff<<(attempt-1)); err != nil {
				return err
			}
		}
	}
	return ReconciliationFailure{ProductID: productID, Attempts: r.MaxRetries, Err: lastErr}
}

func (r *Reconciler) fail(ctx context.Context, f ReconciliationFailure) {
	metrics.ReconcileFailures.Inc()
	logx.Ctx(ctx).Error().Err(f.Err).Str("product_id", f.ProductID).Int("attempts", f.Attempts).Msg("reconciliation failure")
	if r.OnFailure != nil {
		r.OnFailure(ctx, f)
	}
	select {
	case r.errs <- f:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
