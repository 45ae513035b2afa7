package inventory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/ariefcatur/go-flashsale-orders/internal/metrics"
)

// Batas status laporan stok.
const LowStockThreshold = 10

const (
	StockOut = "out_of_stock"
	StockLow = "low_stock"
	StockIn  = "in_stock"
)

// StockLedger is what callers outside this package need from Ledger.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int) (int, error)
	Release(ctx context.Context, productID string, qty int) (int, error)
	Peek(ctx context.Context, productID string) (int, error)
}

type adminStore interface {
	AppendIntent(ctx context.Context, productID string, delta int, source, ref string) error
	LoadQuantity(ctx context.Context, productID string) (int, int64, error)
	StockReport(ctx context.Context) ([]ProductStock, error)
}

type resyncer interface {
	Resync(ctx context.Context, productID string) (int, error)
}

type ReportLine struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Durable      int    `json:"durable_quantity"`
	Version      int64  `json:"version"`
	PendingDelta int    `json:"pending_delta"`
	Available    int    `json:"available_quantity"`
	Status       string `json:"status"`
}

// Service holds admin stock operations. Increases go through the intent log
// and Ledger.Release, never through the contested reserve path.
type Service struct {
	Ledger StockLedger
	Store  adminStore
}

func (s *Service) Restock(ctx context.Context, productID string, qty int, reason string) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	if _, _, err := s.Store.LoadQuantity(ctx, productID); err != nil {
		return 0, err
	}
	// intent dulu, baru ledger: kalau ledger hilang, seed sudah memuat intent ini
	if err := s.Store.AppendIntent(ctx, productID, qty, SourceRestock, reason); err != nil {
		return 0, err
	}
	// intent sudah commit, ledger harus ikut walau caller sudah pergi
	left, err := s.Ledger.Release(context.WithoutCancel(ctx), productID, qty)
	if err != nil {
		return 0, fmt.Errorf("restock %s: %w", productID, err)
	}
	metrics.Releases.WithLabelValues(SourceRestock).Inc()
	logx.Ctx(ctx).Info().Str("product_id", productID).Int("qty", qty).Str("reason", reason).Int("available", left).Msg("restocked")
	return left, nil
}

// Adjust applies a signed correction. Decreases compete with buyers through
// Reserve and may fail with insufficient stock.
func (s *Service) Adjust(ctx context.Context, productID string, delta int, reason string) (int, error) {
	switch {
	case delta > 0:
		return s.Restock(ctx, productID, delta, reason)
	case delta == 0:
		return 0, ErrInvalidQuantity
	}
	if _, _, err := s.Store.LoadQuantity(ctx, productID); err != nil {
		return 0, err
	}
	left, err := s.Ledger.Reserve(ctx, productID, -delta)
	if err != nil {
		return left, err
	}
	if err := s.Store.AppendIntent(ctx, productID, delta, SourceAdjust, reason); err != nil {
		if _, rerr := s.Ledger.Release(context.WithoutCancel(ctx), productID, -delta); rerr != nil {
			logx.Ctx(ctx).Error().Err(rerr).Str("product_id", productID).Msg("adjust compensation failed")
		}
		return 0, err
	}
	logx.Ctx(ctx).Info().Str("product_id", productID).Int("delta", delta).Str("reason", reason).Int("available", left).Msg("stock adjusted")
	return left, nil
}

func (s *Service) Resync(ctx context.Context, productID string) (int, error) {
	r, ok := s.Ledger.(resyncer)
	if !ok {
		return 0, fmt.Errorf("ledger does not support resync")
	}
	if _, _, err := s.Store.LoadQuantity(ctx, productID); err != nil {
		return 0, err
	}
	return r.Resync(ctx, productID)
}

func (s *Service) Report(ctx context.Context) ([]ReportLine, error) {
	rows, err := s.Store.StockReport(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReportLine, 0, len(rows))
	for _, ps := range rows {
		avail, err := s.Ledger.Peek(ctx, ps.ProductID)
		if err != nil {
			return nil, err
		}
		out = append(out, ReportLine{
			ProductID:    ps.ProductID,
			SKU:          ps.SKU,
			Name:         ps.Name,
			Durable:      ps.Quantity,
			Version:      ps.Version,
			PendingDelta: ps.PendingDelta,
			Available:    avail,
			Status:       StockStatus(avail),
		})
	}
	return out, nil
}

func StockStatus(available int) string {
	switch {
	case available <= 0:
		return StockOut
	case available <= LowStockThreshold:
		return StockLow
	default:
		return StockIn
	}
}
