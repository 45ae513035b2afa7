package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reservations_total",
		Help: "Stock ledger reserve calls by result.",
	}, []string{"result"}) // ok | insufficient | error

	Releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_releases_total",
		Help: "Stock ledger release calls by reason.",
	}, []string{"reason"})

	CouponRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon redeem attempts by result.",
	}, []string{"result"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Order placement attempts by result.",
	}, []string{"result"})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Pending orders expired by the reaper.",
	})

	ReconcileApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_intents_applied_total",
		Help: "Stock intents folded into the durable store.",
	})

	ReconcileConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_version_conflicts_total",
		Help: "Optimistic version conflicts seen by the reconciler.",
	})

	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_failures_total",
		Help: "Products that could not be reconciled within the retry budget.",
	})

	PlaceOrderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "place_order_duration_seconds",
		Help:    "Latency of order placement.",
		Buckets: prometheus.DefBuckets,
	})
)

func Handler() http.Handler { return promhttp.Handler() }
