package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zapis/internal/models"
)

var ErrCustomerNotFound = errors.New("customer not found")

// UpsertCustomer stores contact details. Empty fields never overwrite known values
// and the loyalty balance is left alone.
func (db *DB) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	now := time.Now().UTC()
	query := `INSERT INTO customers (id, name, email, telegram_chat_id, loyalty_points, created_at, updated_at)
              VALUES (?, ?, ?, ?, 0, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = COALESCE(NULLIF(excluded.name, ''), customers.name),
                  email = COALESCE(NULLIF(excluded.email, ''), customers.email),
                  telegram_chat_id = COALESCE(NULLIF(excluded.telegram_chat_id, 0), customers.telegram_chat_id),
                  updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, c.ID, c.Name, c.Email, c.TelegramChatID, now, now); err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

func (db *DB) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	query := `SELECT id, name, email, telegram_chat_id, loyalty_points, created_at, updated_at
              FROM customers WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.TelegramChatID, &c.LoyaltyPoints, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}
