package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
	"github.com/ariefcatur/go-flashsale-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Status code dari script: -1 key belum ada, 0 stok kurang, 1 sukses.
const (
	scriptMiss = -1
	scriptFail = 0
	scriptOK   = 1
)

// Check-and-decrement dalam satu eksekusi Lua: tidak pernah negatif, tidak pernah parsial.
var reserveScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return {-1, 0}
end
local cur = tonumber(v)
local want = tonumber(ARGV[1])
if cur < want then
  return {0, cur}
end
return {1, redis.call('DECRBY', KEYS[1], want)}
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0}
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
`)

// Seeder returns the durable value a missing ledger key is rebuilt from:
// stock quantity plus every intent not yet reconciled.
type Seeder interface {
	LedgerSeed(ctx context.Context, productID string) (int, error)
}

// Ledger is the per-product contention point for reservations, kept in Redis.
type Ledger struct {
	Redis  redis.Cmdable
	Seeder Seeder
}

func NewLedger(rdb redis.Cmdable, seeder Seeder) *Ledger {
	return &Ledger{Redis: rdb, Seeder: seeder}
}

func stockKey(productID string) string { return fmt.Sprintf(redisx.KeyStock, productID) }

// Reserve atomically claims qty units. On shortage it returns an
// *InsufficientStockError holding the remaining count.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	key := stockKey(productID)
	for attempt := 0; attempt < 2; attempt++ {
		code, val, err := runPair(ctx, reserveScript, l.Redis, key, qty)
		if err != nil {
			metrics.Reservations.WithLabelValues("error").Inc()
			return 0, fmt.Errorf("reserve %s: %w", productID, err)
		}
		switch code {
		case scriptOK:
			metrics.Reservations.WithLabelValues("ok").Inc()
			return val, nil
		case scriptFail:
			metrics.Reservations.WithLabelValues("insufficient").Inc()
			return val, &InsufficientStockError{ProductID: productID, Requested: qty, Available: val}
		case scriptMiss:
			if err := l.seed(ctx, productID, false); err != nil {
				return 0, err
			}
		}
	}
	return 0, fmt.Errorf("reserve %s: %w", productID, ErrLedgerUnavailable)
}

// Release adds qty back. When the key is gone the seeded value already
// reflects every committed change, so nothing is added on top of it.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	key := stockKey(productID)
	code, val, err := runPair(ctx, releaseScript, l.Redis, key, qty)
	if err != nil {
		return 0, fmt.Errorf("release %s: %w", productID, err)
	}
	if code == scriptOK {
		return val, nil
	}
	logx.Ctx(ctx).Warn().Str("product_id", productID).Int("qty", qty).Msg("ledger key missing on release, reseeding")
	if err := l.seed(ctx, productID, false); err != nil {
		return 0, err
	}
	return l.Peek(ctx, productID)
}

// Peek returns the remaining count, seeding the key when absent.
func (l *Ledger) Peek(ctx context.Context, productID string) (int, error) {
	key := stockKey(productID)
	n, err := l.Redis.Get(ctx, key).Int()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("peek %s: %w", productID, err)
	}
	if err := l.seed(ctx, productID, false); err != nil {
		return 0, err
	}
	n, err = l.Redis.Get(ctx, key).Int()
	if err != nil {
		return 0, fmt.Errorf("peek %s: %w", productID, err)
	}
	return n, nil
}

// Resync overwrites the ledger from durable state. Admin only: claims that
// are in flight and not yet persisted are dropped.
func (l *Ledger) Resync(ctx context.Context, productID string) (int, error) {
	if err := l.seed(ctx, productID, true); err != nil {
		return 0, err
	}
	return l.Peek(ctx, productID)
}

func (l *Ledger) seed(ctx context.Context, productID string, force bool) error {
	n, err := l.Seeder.LedgerSeed(ctx, productID)
	if err != nil {
		return fmt.Errorf("seed %s: %w", productID, err)
	}
	if n < 0 {
		n = 0
	}
	key := stockKey(productID)
	if force {
		err = l.Redis.Set(ctx, key, n, 0).Err()
	} else {
		err = l.Redis.SetNX(ctx, key, n, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("seed %s: %w", productID, err)
	}
	logx.Ctx(ctx).Info().Str("product_id", productID).Int("quantity", n).Bool("force", force).Msg("ledger seeded")
	return nil
}

func runPair(ctx context.Context, s *redis.Script, rdb redis.Cmdable, key string, qty int) (int, int, error) {
	res, err := s.Run(ctx, rdb, []string{key}, qty).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply %v", res)
	}
	return int(res[0]), int(res[1]), nil
}
