package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"
)

// ResolveSlots projects the grid of date against the taken slots. A slot that
// starts at or before now is past; past wins over taken.
func ResolveSlots(g *Grid, date string, taken map[string]bool, now time.Time) ([]models.Slot, error) {
	if _, err := g.ParseDate(date); err != nil {
		return nil, err
	}

	slots := make([]models.Slot, 0, len(g.times))
	for _, t := range g.times {
		instant, err := g.Instant(date, t)
		if err != nil {
			return nil, err
		}
		slot := models.Slot{Time: t, Available: true}
		switch {
		case !instant.After(now):
			slot.Available = false
			slot.Reason = models.SlotReasonPast
		case taken[t]:
			slot.Available = false
			slot.Reason = models.SlotReasonTaken
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

type AvailabilityService struct {
	catalog  domain.ServiceCatalog
	bookings domain.BookingRepository
	grid     *Grid
	now      func() time.Time
}

func NewAvailabilityService(catalog domain.ServiceCatalog, bookings domain.BookingRepository, grid *Grid) *AvailabilityService {
	return &AvailabilityService{catalog: catalog, bookings: bookings, grid: grid, now: time.Now}
}

func (s *AvailabilityService) Grid() *Grid {
	return s.grid
}

// AvailableSlots lists the slots of date for an active service.
func (s *AvailabilityService) AvailableSlots(ctx context.Context, serviceID, date string) ([]models.Slot, error) {
	if _, err := activeService(ctx, s.catalog, serviceID); err != nil {
		return nil, err
	}
	if _, err := s.grid.ParseDate(date); err != nil {
		return nil, err
	}
	taken, err := s.bookings.GetTakenSlots(ctx, date)
	if err != nil {
		return nil, err
	}
	return ResolveSlots(s.grid, date, taken, s.now())
}

// CheckSlot re-runs the availability rule for one slot and returns its instant.
func (s *AvailabilityService) CheckSlot(ctx context.Context, date, slot string) (time.Time, error) {
	instant, err := s.grid.Instant(date, slot)
	if err != nil {
		return time.Time{}, err
	}
	if !instant.After(s.now()) {
		return time.Time{}, fmt.Errorf("%w: %s %s is in the past", domain.ErrSlotUnavailable, date, slot)
	}
	taken, err := s.bookings.GetTakenSlots(ctx, date)
	if err != nil {
		return time.Time{}, err
	}
	if taken[slot] {
		return time.Time{}, fmt.Errorf("%w: %s %s is taken", domain.ErrSlotUnavailable, date, slot)
	}
	return instant, nil
}

func activeService(ctx context.Context, catalog domain.ServiceCatalog, id string) (*models.Service, error) {
	svc, err := catalog.GetService(ctx, id)
	if errors.Is(err, domain.ErrServiceNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.IsActive {
		return nil, domain.ErrServiceNotFound
	}
	return svc, nil
}
