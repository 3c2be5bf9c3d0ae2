package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/metrics"
	"zapis/internal/models"
	"zapis/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Services are the operations exposed over HTTP.
type Services struct {
	Slots    domain.SlotResolver
	Promo    domain.PromoValidator
	Bookings domain.BookingManager
	Payments domain.PaymentCoordinator
	Jobs     domain.JobAdmin
	Webhooks *payment.Verifier
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	svc      Services
	auth     *HTTPAuth
	identity *IdentityResolver
	handler  http.Handler
	server   *http.Server
	log      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		svc:      svc,
		auth:     NewHTTPAuth(cfg),
		identity: NewIdentityResolver(cfg.JWT),
		log:      zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)
	mux.HandleFunc("POST /api/v1/webhooks/payments", srv.handleWebhook)

	srv.route(mux, "GET /api/v1/services/{id}/slots", PermReadSlots, srv.handleSlots)
	srv.route(mux, "POST /api/v1/promo/validate", PermReadPromo, srv.handleValidatePromo)

	srv.customerRoute(mux, "POST /api/v1/bookings", PermWriteBookings, srv.handleCreateBooking)
	srv.customerRoute(mux, "GET /api/v1/bookings", PermWriteBookings, srv.handleListBookings)
	srv.customerRoute(mux, "GET /api/v1/bookings/next", PermWriteBookings, srv.handleNextBooking)
	srv.customerRoute(mux, "POST /api/v1/bookings/{id}/cancel", PermWriteBookings, srv.handleCancelBooking)
	srv.customerRoute(mux, "POST /api/v1/bookings/{id}/reschedule", PermWriteBookings, srv.handleRescheduleBooking)
	srv.customerRoute(mux, "POST /api/v1/payments/intents", PermWritePayments, srv.handleCreateIntent)
	srv.customerRoute(mux, "POST /api/v1/payments/confirm", PermWritePayments, srv.handleConfirmPayment)

	srv.route(mux, "POST /api/v1/bookings/{id}/complete", PermAdminBookings, srv.handleCompleteBooking)
	srv.route(mux, "POST /api/v1/payments/refund", PermAdminPayments, srv.handleRefund)
	srv.route(mux, "GET /api/v1/admin/jobs/failed", PermAdminJobs, srv.handleFailedJobs)
	srv.route(mux, "POST /api/v1/admin/jobs/{id}/requeue", PermAdminJobs, srv.handleRequeueJob)

	srv.handler = srv.loggingMiddleware(mux)
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

type customerHandler func(w http.ResponseWriter, r *http.Request, c *models.Customer)

func (s *HTTPServer) route(mux *http.ServeMux, pattern, permission string, h http.HandlerFunc) {
	mux.Handle(pattern, s.auth.Require(permission, h))
}

// customerRoute additionally resolves the requesting customer.
func (s *HTTPServer) customerRoute(mux *http.ServeMux, pattern, permission string, h customerHandler) {
	s.route(mux, pattern, permission, func(w http.ResponseWriter, r *http.Request) {
		c, err := s.identity.Resolve(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		h(w, r, c)
	})
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		ev := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
