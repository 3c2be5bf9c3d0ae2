package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"zapis/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Catalog is the seed data for services and promo codes.
type Catalog struct {
	Services   []models.Service
	PromoCodes []models.PromoCode
}

type catalogFile struct {
	Services []struct {
		ID              string `yaml:"id"`
		Name            string `yaml:"name"`
		DurationMinutes int    `yaml:"duration_minutes"`
		Price           string `yaml:"price"`
		PromoPrice      string `yaml:"promo_price"`
		Currency        string `yaml:"currency"`
		Inactive        bool   `yaml:"inactive"`
	} `yaml:"services"`
	PromoCodes []struct {
		Code       string `yaml:"code"`
		Type       string `yaml:"type"`
		Value      string `yaml:"value"`
		Inactive   bool   `yaml:"inactive"`
		ValidFrom  string `yaml:"valid_from"`
		ValidUntil string `yaml:"valid_until"`
		MaxUses    *int   `yaml:"max_uses"`
		MinAmount  string `yaml:"min_amount"`
	} `yaml:"promo_codes"`
}

// LoadCatalog reads the catalog file. defaultCurrency fills services without one.
func LoadCatalog(path, defaultCurrency string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	catalog := &Catalog{}
	seen := make(map[string]bool)
	for _, s := range raw.Services {
		if s.ID == "" {
			return nil, fmt.Errorf("service %q has empty id", s.Name)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate service id found: %s", s.ID)
		}
		seen[s.ID] = true

		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			return nil, fmt.Errorf("service %s price: %w", s.ID, err)
		}
		svc := models.Service{
			ID:              s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           price,
			Currency:        s.Currency,
			IsActive:        !s.Inactive,
		}
		if s.PromoPrice != "" {
			promo, err := decimal.NewFromString(s.PromoPrice)
			if err != nil {
				return nil, fmt.Errorf("service %s promo price: %w", s.ID, err)
			}
			svc.PromoPrice = decimal.NewNullDecimal(promo)
		}
		if svc.Currency == "" {
			svc.Currency = defaultCurrency
		}
		if svc.DurationMinutes == 0 {
			svc.DurationMinutes = 30
		}
		catalog.Services = append(catalog.Services, svc)
	}

	for _, p := range raw.PromoCodes {
		code, err := parsePromo(p.Code, p.Type, p.Value, p.ValidFrom, p.ValidUntil, p.MinAmount)
		if err != nil {
			return nil, err
		}
		code.IsActive = !p.Inactive
		code.MaxUses = p.MaxUses
		catalog.PromoCodes = append(catalog.PromoCodes, *code)
	}
	return catalog, nil
}

func parsePromo(code, kind, value, from, until, minAmount string) (*models.PromoCode, error) {
	kind = strings.ToLower(kind)
	if kind != models.DiscountPercentage && kind != models.DiscountFixed {
		return nil, fmt.Errorf("promo %s: unknown discount type %q", code, kind)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("promo %s value: %w", code, err)
	}
	p := &models.PromoCode{Code: code, DiscountType: kind, Value: v}
	if p.ValidFrom, err = time.Parse(models.DateLayout, from); err != nil {
		return nil, fmt.Errorf("promo %s valid_from: %w", code, err)
	}
	if p.ValidUntil, err = time.Parse(models.DateLayout, until); err != nil {
		return nil, fmt.Errorf("promo %s valid_until: %w", code, err)
	}
	// valid_until is inclusive of the whole day
	p.ValidUntil = p.ValidUntil.Add(24*time.Hour - time.Second)
	if minAmount != "" {
		m, err := decimal.NewFromString(minAmount)
		if err != nil {
			return nil, fmt.Errorf("promo %s min_amount: %w", code, err)
		}
		p.MinAmount = decimal.NewNullDecimal(m)
	}
	return p, nil
}
