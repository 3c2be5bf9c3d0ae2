package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"zapis/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CalendarService mirrors bookings into a Google Calendar.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*CalendarService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	return NewCalendarServiceWithOptions(ctx, calendarID, loc, option.WithHTTPClient(config.Client(ctx)))
}

// NewCalendarServiceWithOptions builds the client from raw API options.
func NewCalendarServiceWithOptions(ctx context.Context, calendarID string, loc *time.Location, opts ...option.ClientOption) (*CalendarService, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{service: srv, calendarID: calendarID, loc: loc}, nil
}

func (s *CalendarService) CreateEvent(ctx context.Context, b *models.Booking, service *models.Service) (string, error) {
	ev, err := s.service.Events.Insert(s.calendarID, s.event(b, service)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	return ev.Id, nil
}

func (s *CalendarService) UpdateEvent(ctx context.Context, eventID string, b *models.Booking, service *models.Service) error {
	_, err := s.service.Events.Update(s.calendarID, eventID, s.event(b, service)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	return nil
}

// CancelEvent deletes the event. An event that is already gone counts as cancelled.
func (s *CalendarService) CancelEvent(ctx context.Context, eventID string) error {
	err := s.service.Events.Delete(s.calendarID, eventID).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("cancel calendar event: %w", err)
	}
	return nil
}

func (s *CalendarService) event(b *models.Booking, service *models.Service) *calendar.Event {
	start := b.StartsAt.In(s.loc)
	end := start.Add(service.Duration())
	return &calendar.Event{
		Summary:     service.Name,
		Description: fmt.Sprintf("Booking %s\nCustomer %s\nStatus %s", b.ID, b.CustomerID, b.Status),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.loc.String()},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"booking_id": b.ID},
		},
	}
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}
