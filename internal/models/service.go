package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service is a catalog entry that can be booked.
type Service struct {
	ID              string              `json:"id" yaml:"id"`
	Name            string              `json:"name" yaml:"name"`
	DurationMinutes int                 `json:"duration_minutes" yaml:"duration_minutes"`
	Price           decimal.Decimal     `json:"price" yaml:"price"`
	PromoPrice      decimal.NullDecimal `json:"promo_price" yaml:"promo_price"`
	Currency        string              `json:"currency" yaml:"currency"`
	IsActive        bool                `json:"is_active" yaml:"is_active"`
	CreatedAt       time.Time           `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time           `json:"updated_at" yaml:"-"`
}

// EffectivePrice is the promo price when one is set, otherwise the list price.
func (s *Service) EffectivePrice() decimal.Decimal {
	if s.PromoPrice.Valid {
		return s.PromoPrice.Decimal
	}
	return s.Price
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
