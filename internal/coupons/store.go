package coupons

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Store struct{ DB *pgxpool.Pool }

func (s *Store) FindByCode(ctx context.Context, code string) (Coupon, error) {
	var (
		c  Coupon
		dt string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT id, code, discount_type, discount_value, min_purchase_amount,
		       valid_from, valid_until, total_limit, used_count, is_active
		FROM coupons WHERE code=$1`, code).
		Scan(&c.ID, &c.Code, &dt, &c.DiscountValue, &c.MinPurchaseAmount,
			&c.ValidFrom, &c.ValidUntil, &c.TotalLimit, &c.UsedCount, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrCouponNotFound
	}
	if err != nil {
		return Coupon{}, errors.Wrapf(err, "find coupon %s", code)
	}
	c.DiscountType = DiscountType(dt)
	return c, nil
}

// RecordRedemption inserts the (user, coupon) row and bumps used_count under
// the ceiling, both in one transaction.
func (s *Store) RecordRedemption(ctx context.Context, couponID, userID, orderRef string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO user_coupon_redemptions(user_id, coupon_id, order_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, coupon_id) DO NOTHING`, userID, couponID, orderRef)
	if err != nil {
		return errors.Wrap(err, "insert redemption")
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyRedeemed
	}

	ct, err = tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id=$1 AND (total_limit = 0 OR used_count < total_limit)`, couponID)
	if err != nil {
		return errors.Wrap(err, "bump used_count")
	}
	if ct.RowsAffected() == 0 {
		return ErrCouponExhausted
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// DeleteRedemption undoes RecordRedemption. Reports false when there was
// nothing to undo.
func (s *Store) DeleteRedemption(ctx context.Context, couponID, userID string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `DELETE FROM user_coupon_redemptions WHERE user_id=$1 AND coupon_id=$2`, userID, couponID)
	if err != nil {
		return false, errors.Wrap(err, "delete redemption")
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count - 1 WHERE id=$1 AND used_count > 0`, couponID); err != nil {
		return false, errors.Wrap(err, "decrement used_count")
	}
	return true, errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) HasRedeemed(ctx context.Context, couponID, userID string) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_coupon_redemptions WHERE user_id=$1 AND coupon_id=$2)`,
		userID, couponID).Scan(&ok)
	return ok, errors.Wrap(err, "has redeemed")
}
