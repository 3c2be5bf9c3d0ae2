package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"zapis/internal/domain"
	"zapis/internal/models"
)

func (db *DB) UpsertPromoCode(ctx context.Context, p *models.PromoCode) error {
	query := `INSERT INTO promo_codes (code, discount_type, value, is_active, valid_from, valid_until,
                  max_uses, used_count, min_amount)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(code) DO UPDATE SET
                  discount_type = excluded.discount_type,
                  value = excluded.value,
                  is_active = excluded.is_active,
                  valid_from = excluded.valid_from,
                  valid_until = excluded.valid_until,
                  max_uses = excluded.max_uses,
                  min_amount = excluded.min_amount`
	var maxUses sql.NullInt64
	if p.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*p.MaxUses), Valid: true}
	}
	_, err := db.ExecContext(ctx, query, p.Code, p.DiscountType, p.Value, p.IsActive,
		p.ValidFrom.UTC(), p.ValidUntil.UTC(), maxUses, p.UsedCount, p.MinAmount)
	if err != nil {
		return fmt.Errorf("failed to upsert promo code: %w", err)
	}
	return nil
}

// GetPromoCode looks the code up case-insensitively.
func (db *DB) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var (
		p       models.PromoCode
		maxUses sql.NullInt64
	)
	query := `SELECT code, discount_type, value, is_active, valid_from, valid_until, max_uses, used_count, min_amount
              FROM promo_codes WHERE code = ? COLLATE NOCASE`
	err := db.QueryRowContext(ctx, query, code).Scan(
		&p.Code, &p.DiscountType, &p.Value, &p.IsActive, &p.ValidFrom, &p.ValidUntil,
		&maxUses, &p.UsedCount, &p.MinAmount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		p.MaxUses = &n
	}
	return &p, nil
}
