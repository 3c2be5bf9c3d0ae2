package service

import (
	"fmt"
	"time"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/models"
)

// Grid is the fixed working-day grid of the shared calendar.
type Grid struct {
	loc   *time.Location
	times []string
	index map[string]struct{}
}

func NewGrid(cfg config.CalendarConfig) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := cfg.Location()
	open, _ := time.Parse(models.TimeLayout, cfg.Open)
	closing, _ := time.Parse(models.TimeLayout, cfg.Close)
	step := time.Duration(cfg.SlotMinutes) * time.Minute

	g := &Grid{loc: loc, index: make(map[string]struct{})}
	for t := open; t.Before(closing); t = t.Add(step) {
		s := t.Format(models.TimeLayout)
		g.times = append(g.times, s)
		g.index[s] = struct{}{}
	}
	return g, nil
}

// Times returns the slot start times in order.
func (g *Grid) Times() []string {
	return append([]string(nil), g.times...)
}

func (g *Grid) Contains(slot string) bool {
	_, ok := g.index[slot]
	return ok
}

func (g *Grid) Location() *time.Location {
	return g.loc
}

// ParseDate validates a calendar date in the grid's timezone.
func (g *Grid) ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(models.DateLayout, date, g.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidDate, date)
	}
	return d, nil
}

// Instant converts a (date, slot) pair to its UTC start instant.
func (g *Grid) Instant(date, slot string) (time.Time, error) {
	if _, err := g.ParseDate(date); err != nil {
		return time.Time{}, err
	}
	if !g.Contains(slot) {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}
	t, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+slot, g.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}
	return t.UTC(), nil
}
