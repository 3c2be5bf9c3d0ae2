package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"zapis/internal/domain"
	"zapis/internal/metrics"
	"zapis/internal/models"
	"zapis/internal/payment"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		if err := s.svc.Ready(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("id")
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if err := validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}

	slots, err := s.svc.Slots.AvailableSlots(r.Context(), serviceID, date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSlotsResponse{ServiceID: serviceID, Date: date, Slots: slots})
}

func (s *HTTPServer) handleValidatePromo(w http.ResponseWriter, r *http.Request) {
	var req validatePromoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.Promo.Validate(r.Context(), req.Code, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Bookings.Create(r.Context(), domain.CreateBookingRequest{
		Customer:  *c,
		ServiceID: req.ServiceID,
		Date:      req.Date,
		Time:      req.Time,
		Notes:     req.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	bookings, err := s.svc.Bookings.ListForUser(r.Context(), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleNextBooking(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	b, err := s.svc.Bookings.NextUpcoming(r.Context(), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	b, err := s.svc.Bookings.Cancel(r.Context(), r.PathValue("id"), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRescheduleBooking(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	var req rescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Bookings.Reschedule(r.Context(), r.PathValue("id"), c.ID, req.Date, req.Time)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCreateIntent(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	var req createIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.Payments.CreateIntent(r.Context(), domain.CreateIntentRequest{
		BookingID:   req.BookingID,
		RequesterID: c.ID,
		Amount:      req.Amount,
		PromoCode:   req.PromoCode,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request, c *models.Customer) {
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Подтверждать может только владелец брони.
	owned, err := s.ownedBy(r, req.BookingID, c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !owned {
		s.fail(w, r, domain.ErrBookingNotFound)
		return
	}
	b, err := s.svc.Payments.Confirm(r.Context(), req.BookingID, req.IntentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) ownedBy(r *http.Request, bookingID, customerID string) (bool, error) {
	bookings, err := s.svc.Bookings.ListForUser(r.Context(), customerID)
	if err != nil {
		return false, err
	}
	for _, b := range bookings {
		if b.ID == bookingID {
			return true, nil
		}
	}
	return false, nil
}

func (s *HTTPServer) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Payments.Refund(r.Context(), req.BookingID, req.Amount, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "cannot read body")
		return
	}
	if err := s.svc.Webhooks.Verify(r.Header.Get(payment.SignatureHeader), body); err != nil {
		metrics.IncWebhookRejected()
		s.log.Warn().Err(err).Msg("webhook rejected")
		writeDomainError(w, domain.ErrInvalidSignature)
		return
	}
	if err := s.svc.Payments.HandleWebhook(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jobs, err := s.svc.Jobs.FailedJobs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *HTTPServer) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "job id must be a positive integer")
		return
	}
	if err := s.svc.Jobs.Requeue(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": models.JobPending})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	if domain.KindOf(err) == domain.KindInternal {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeDomainError(w, err)
}
