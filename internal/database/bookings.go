package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, service_id, customer_id, date, slot, starts_at, status, payment_status,
	payment_reference, amount_due, charged_amount, currency, notes, calendar_event_id, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                      models.Booking
		ref, notes, calendarID sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ServiceID, &b.CustomerID, &b.Date, &b.Slot, &b.StartsAt, &b.Status, &b.PaymentStatus,
		&ref, &b.AmountDue, &b.ChargedAmount, &b.Currency, &notes, &calendarID, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.PaymentReference = ref.String
	b.Notes = notes.String
	b.CalendarEventID = calendarID.String
	b.StartsAt = b.StartsAt.UTC()
	return &b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateBookingWithLock checks the slot and inserts the booking in one transaction.
// The partial unique index on active (date, slot) is the final guard.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var taken int
		queryCount := `SELECT COUNT(*) FROM bookings WHERE date = ? AND slot = ? AND status IN (?, ?)`
		err := tx.QueryRowContext(ctx, queryCount, booking.Date, booking.Slot,
			models.StatusPending, models.StatusConfirmed).Scan(&taken)
		if err != nil {
			return fmt.Errorf("failed to check availability in tx: %w", err)
		}
		if taken > 0 {
			return ErrNotAvailable
		}

		if booking.ID == "" {
			booking.ID = uuid.NewString()
		}
		if booking.Status == "" {
			booking.Status = models.StatusPending
		}
		if booking.PaymentStatus == "" {
			booking.PaymentStatus = models.PaymentPending
		}
		now := time.Now().UTC()

		queryInsert := `INSERT INTO bookings (` + bookingColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, queryInsert,
			booking.ID,
			booking.ServiceID,
			booking.CustomerID,
			booking.Date,
			booking.Slot,
			booking.StartsAt.UTC(),
			booking.Status,
			booking.PaymentStatus,
			nullString(booking.PaymentReference),
			booking.AmountDue,
			booking.ChargedAmount,
			booking.Currency,
			nullString(booking.Notes),
			nullString(booking.CalendarEventID),
			now,
			now,
			1,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrNotAvailable
			}
			return fmt.Errorf("failed to insert booking in tx: %w", err)
		}

		booking.CreatedAt = now
		booking.UpdatedAt = now
		booking.Version = 1
		return nil
	})
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetTakenSlots returns the slots of date held by pending or confirmed bookings.
func (db *DB) GetTakenSlots(ctx context.Context, date string) (map[string]bool, error) {
	query := `SELECT slot FROM bookings WHERE date = ? AND status IN (?, ?)`
	rows, err := db.QueryContext(ctx, query, date, models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to get taken slots: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		taken[slot] = true
	}
	return taken, rows.Err()
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// RescheduleBookingWithVersion moves the booking to another slot in place.
func (db *DB) RescheduleBookingWithVersion(
	ctx context.Context, id string, fromVersion int64, date, slot string, startsAt time.Time,
) error {
	query := `UPDATE bookings SET date = ?, slot = ?, starts_at = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, date, slot, startsAt.UTC(), time.Now().UTC(), id, fromVersion,
		models.StatusPending, models.StatusConfirmed)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNotAvailable
		}
		return fmt.Errorf("failed to reschedule booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetCustomerBookings(ctx context.Context, customerID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE customer_id = ? ORDER BY starts_at ASC, slot ASC`
	return db.queryBookings(ctx, query, customerID)
}

// GetNextUpcoming returns the earliest active booking of the customer starting at or after now.
func (db *DB) GetNextUpcoming(ctx context.Context, customerID string, now time.Time) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE customer_id = ? AND status IN (?, ?) AND starts_at >= ?
              ORDER BY starts_at ASC LIMIT 1`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, customerID,
		models.StatusPending, models.StatusConfirmed, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next booking: %w", err)
	}
	return booking, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

// SetPaymentReference binds an intent and the amount it charges to the booking.
// It reports false when the booking is already paid, refunded or no longer active.
func (db *DB) SetPaymentReference(ctx context.Context, id, reference string, charged decimal.Decimal) (bool, error) {
	query := `UPDATE bookings SET payment_reference = ?, charged_amount = ?, payment_status = ?,
                  version = version + 1, updated_at = ?
              WHERE id = ? AND payment_status IN (?, ?) AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, reference, charged, models.PaymentPending, time.Now().UTC(), id,
		models.PaymentPending, models.PaymentFailed, models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to set payment reference: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkPaid sets the booking to paid and confirmed. Loyalty credit is granted in the
// same transaction and only when this call performed the transition.
func (db *DB) MarkPaid(ctx context.Context, id string, credit int64) (bool, error) {
	transitioned := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `UPDATE bookings SET payment_status = ?, status = ?, version = version + 1, updated_at = ?
                  WHERE id = ? AND payment_status IN (?, ?) AND status IN (?, ?)`
		result, err := tx.ExecContext(ctx, query, models.PaymentPaid, models.StatusConfirmed, now, id,
			models.PaymentPending, models.PaymentFailed, models.StatusPending, models.StatusConfirmed)
		if err != nil {
			return fmt.Errorf("failed to mark booking paid: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		transitioned = true
		if credit <= 0 {
			return nil
		}

		var customerID string
		if err := tx.QueryRowContext(ctx, `SELECT customer_id FROM bookings WHERE id = ?`, id).Scan(&customerID); err != nil {
			return fmt.Errorf("failed to load booking customer: %w", err)
		}
		loyalty := `INSERT INTO customers (id, loyalty_points, created_at, updated_at) VALUES (?, ?, ?, ?)
                    ON CONFLICT(id) DO UPDATE SET
                        loyalty_points = customers.loyalty_points + excluded.loyalty_points,
                        updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, loyalty, customerID, credit, now, now); err != nil {
			return fmt.Errorf("failed to award loyalty credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return transitioned, nil
}

// MarkPaymentFailed moves a pending payment to failed. Paid bookings are never touched.
func (db *DB) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	query := `UPDATE bookings SET payment_status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND payment_status = ?`
	result, err := db.ExecContext(ctx, query, models.PaymentFailed, time.Now().UTC(), id, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkRefunded sets a paid booking to refunded and cancelled.
func (db *DB) MarkRefunded(ctx context.Context, id string) (bool, error) {
	query := `UPDATE bookings SET payment_status = ?, status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND payment_status = ?`
	result, err := db.ExecContext(ctx, query, models.PaymentRefunded, models.StatusCancelled,
		time.Now().UTC(), id, models.PaymentPaid)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking refunded: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (db *DB) SetCalendarEventID(ctx context.Context, id, eventID string) error {
	query := `UPDATE bookings SET calendar_event_id = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, nullString(eventID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set calendar event id: %w", err)
	}
	return nil
}
