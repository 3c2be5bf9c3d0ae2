package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Promo validation failure reasons, in check order.
const (
	PromoReasonNotFound     = "not_found"
	PromoReasonInactive     = "inactive"
	PromoReasonNotStarted   = "not_started"
	PromoReasonExpired      = "expired"
	PromoReasonUsageLimit   = "usage_limit_reached"
	PromoReasonBelowMinimum = "below_minimum"
)

type PromoCode struct {
	Code         string              `json:"code"`
	DiscountType string              `json:"discount_type"`
	Value        decimal.Decimal     `json:"value"`
	IsActive     bool                `json:"is_active"`
	ValidFrom    time.Time           `json:"valid_from"`
	ValidUntil   time.Time           `json:"valid_until"`
	MaxUses      *int                `json:"max_uses,omitempty"`
	UsedCount    int                 `json:"used_count"`
	MinAmount    decimal.NullDecimal `json:"min_amount"`
}

type PromoResult struct {
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount_amount"`
	Reason   string          `json:"reason,omitempty"`
}
