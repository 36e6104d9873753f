package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to the supplied transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon")
	}
	return &coupon, nil
}

// IncrementUsage bumps used_count only while the usage limit still has room.
// Zero rows affected means another checkout took the last slot.
func (r *Repository) IncrementUsage(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("code = ? AND (usage_limit = 0 OR used_count < usage_limit)", code).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "increment coupon usage")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit reached")
	}
	return nil
}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// WithTx rebinds the service to the supplied transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx)}
}

// Redeem validates the coupon against the subtotal, claims a usage slot, and
// returns the discount to apply. Must run inside the checkout transaction so
// a failed checkout releases the slot.
func (s *Service) Redeem(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, *models.Coupon, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return decimal.Zero, nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	coupon, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return decimal.Zero, nil, err
	}

	if err := validate(coupon, subtotal, time.Now()); err != nil {
		return decimal.Zero, nil, err
	}

	if err := s.repo.IncrementUsage(ctx, normalized); err != nil {
		return decimal.Zero, nil, err
	}

	return Discount(coupon, subtotal), coupon, nil
}

// Discount computes the amount a coupon takes off the subtotal. Never exceeds
// the subtotal and honors the per-coupon cap.
func Discount(coupon *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(hundred).Round(2)
	case enums.DiscountTypeFixed:
		discount = coupon.DiscountValue
	default:
		return decimal.Zero
	}

	if coupon.MaxDiscount != nil && discount.GreaterThan(*coupon.MaxDiscount) {
		discount = *coupon.MaxDiscount
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

func validate(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) error {
	if !coupon.Active {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon is not active")
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon is not active yet")
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon has expired")
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon usage limit reached")
	}
	if subtotal.LessThan(coupon.MinPurchase) {
		return pkgerrors.New(pkgerrors.CodeValidation, "subtotal below coupon minimum purchase")
	}
	return nil
}
