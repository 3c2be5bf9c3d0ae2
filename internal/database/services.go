package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"
)

const serviceColumns = `id, name, duration_minutes, price, promo_price, currency, is_active, created_at, updated_at`

func scanService(row rowScanner) (*models.Service, error) {
	var s models.Service
	err := row.Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.Price, &s.PromoPrice, &s.Currency,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertService creates the catalog entry or replaces its attributes.
// Existing bookings keep their own amount snapshot.
func (db *DB) UpsertService(ctx context.Context, s *models.Service) error {
	now := time.Now().UTC()
	query := `INSERT INTO services (` + serviceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  duration_minutes = excluded.duration_minutes,
                  price = excluded.price,
                  promo_price = excluded.promo_price,
                  currency = excluded.currency,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query, s.ID, s.Name, s.DurationMinutes, s.Price, s.PromoPrice,
		s.Currency, s.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", s.ID, err)
	}
	s.UpdatedAt = now
	return nil
}

func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = ?`
	s, err := scanService(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

func (db *DB) GetActiveServices(ctx context.Context) ([]*models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE is_active = 1 ORDER BY name`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// SyncServices upserts the configured catalog.
func (db *DB) SyncServices(ctx context.Context, services []models.Service) error {
	for i := range services {
		if err := db.UpsertService(ctx, &services[i]); err != nil {
			return err
		}
	}
	db.logger.Info().Int("count", len(services)).Msg("Service catalog synchronized")
	return nil
}
