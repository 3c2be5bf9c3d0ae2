package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ValidatePromo checks p against an order amount. Checks short-circuit in order:
// active flag, validity window, usage limit, minimum amount. A nil p is not_found.
func ValidatePromo(p *models.PromoCode, amount decimal.Decimal, now time.Time) models.PromoResult {
	switch {
	case p == nil:
		return rejected(models.PromoReasonNotFound)
	case !p.IsActive:
		return rejected(models.PromoReasonInactive)
	case !p.ValidFrom.IsZero() && now.Before(p.ValidFrom):
		return rejected(models.PromoReasonNotStarted)
	case !p.ValidUntil.IsZero() && now.After(p.ValidUntil):
		return rejected(models.PromoReasonExpired)
	case p.MaxUses != nil && p.UsedCount >= *p.MaxUses:
		return rejected(models.PromoReasonUsageLimit)
	case p.MinAmount.Valid && amount.LessThan(p.MinAmount.Decimal):
		return rejected(models.PromoReasonBelowMinimum)
	}

	var discount decimal.Decimal
	switch p.DiscountType {
	case models.DiscountPercentage:
		discount = amount.Mul(p.Value).Div(hundred).Round(2)
	default:
		discount = p.Value
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return models.PromoResult{Valid: true, Discount: discount}
}

func rejected(reason string) models.PromoResult {
	return models.PromoResult{Valid: false, Discount: decimal.Zero, Reason: reason}
}

type PromoService struct {
	store domain.PromoCodeStore
	now   func() time.Time
}

func NewPromoService(store domain.PromoCodeStore) *PromoService {
	return &PromoService{store: store, now: time.Now}
}

func (s *PromoService) Validate(ctx context.Context, code string, amount decimal.Decimal) (*models.PromoResult, error) {
	if amount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	p, err := s.store.GetPromoCode(ctx, code)
	if errors.Is(err, domain.ErrPromoNotFound) {
		p, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	res := ValidatePromo(p, amount, s.now())
	return &res, nil
}
