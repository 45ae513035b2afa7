package checkout

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"time"
)

type expiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type expirer interface {
	ExpireOrder(ctx context.Context, orderID string) (bool, error)
}

// Reaper expires PENDING orders whose lock window has passed.
type Reaper struct {
	Orders   expiredLister
	Expirer  expirer
	Interval time.Duration
	Batch    int
	Now      func() time.Time
}

func NewReaper(svc *Service, interval time.Duration, batch int) *Reaper {
	return &Reaper{Orders: svc.Orders, Expirer: svc, Interval: interval, Batch: batch, Now: svc.Now}
}

func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	log := logx.Ctx(ctx)
	log.Info().Dur("interval", r.Interval).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reaper stopped")
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("reaper sweep")
			}
		}
	}
}

// Sweep expires due orders batch by batch until none are left and returns
// how many transitions it won.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	log := logx.Ctx(ctx)

	expired := 0
	seen := map[string]bool{}
	for {
		ids, err := r.Orders.ListExpired(ctx, now, batch)
		if err != nil {
			return expired, err
		}
		fresh := 0
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			fresh++
			ok, err := r.Expirer.ExpireOrder(ctx, id)
			if err != nil {
				log.Error().Err(err).Str("order_id", id).Msg("expire order")
				continue
			}
			if !ok {
				log.Debug().Str("order_id", id).Msg("order left PENDING before expiry, skipped")
				continue
			}
			expired++
		}
		// berhenti kalau batch tidak penuh atau semua id sudah dicoba (error berulang)
		if len(ids) < batch || fresh == 0 {
			break
		}
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Msg("reaper sweep done")
	}
	return expired, nil
}
