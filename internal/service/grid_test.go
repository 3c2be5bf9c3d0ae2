package service

import (
	"errors"
	"testing"
	"time"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid(t *testing.T) {
	g, err := NewGrid(config.CalendarConfig{Timezone: "Asia/Bangkok", Open: "09:00", Close: "18:00", SlotMinutes: 30})
	require.NoError(t, err)

	times := g.Times()
	require.Len(t, times, 18)
	assert.Equal(t, "09:00", times[0])
	assert.Equal(t, "17:30", times[len(times)-1])
	assert.True(t, g.Contains("14:00"))
	assert.False(t, g.Contains("14:15"))
	assert.False(t, g.Contains("18:00"))

	instant, err := g.Instant("2024-11-20", "14:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 20, 7, 0, 0, 0, time.UTC), instant)
	assert.Equal(t, time.UTC, instant.Location())

	_, err = g.Instant("2024-11-20", "14:15")
	assert.True(t, errors.Is(err, domain.ErrInvalidSlot))

	_, err = g.Instant("20-11-2024", "14:00")
	assert.True(t, errors.Is(err, domain.ErrInvalidDate))

	_, err = g.Instant("2024-02-30", "14:00")
	assert.True(t, errors.Is(err, domain.ErrInvalidDate))
}

func TestGrid_UnevenClose(t *testing.T) {
	g, err := NewGrid(config.CalendarConfig{Timezone: "UTC", Open: "10:00", Close: "11:45", SlotMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, g.Times())
}

func TestGrid_InvalidConfig(t *testing.T) {
	_, err := NewGrid(config.CalendarConfig{Timezone: "UTC", Open: "18:00", Close: "09:00", SlotMinutes: 30})
	assert.Error(t, err)
}

func TestResolveSlots(t *testing.T) {
	g, err := NewGrid(config.CalendarConfig{Timezone: "UTC", Open: "09:00", Close: "12:00", SlotMinutes: 60})
	require.NoError(t, err)
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)
	taken := map[string]bool{"09:00": true, "11:00": true}

	slots, err := ResolveSlots(g, "2024-11-20", taken, now)
	require.NoError(t, err)
	assert.Equal(t, []models.Slot{
		{Time: "09:00", Available: false, Reason: models.SlotReasonPast},
		{Time: "10:00", Available: false, Reason: models.SlotReasonPast},
		{Time: "11:00", Available: false, Reason: models.SlotReasonTaken},
	}, slots)

	slots, err = ResolveSlots(g, "2024-11-21", nil, now)
	require.NoError(t, err)
	for _, s := range slots {
		assert.True(t, s.Available, s.Time)
	}

	_, err = ResolveSlots(g, "bad", nil, now)
	assert.True(t, errors.Is(err, domain.ErrInvalidDate))
}
