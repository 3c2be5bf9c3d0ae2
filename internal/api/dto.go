package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type createBookingRequest struct {
	ServiceID string `json:"service_id" validate:"required,max=64"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=500"`
}

type rescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type createIntentRequest struct {
	BookingID string              `json:"booking_id" validate:"required"`
	Amount    decimal.NullDecimal `json:"amount"`
	PromoCode string              `json:"promo_code" validate:"max=64"`
	Metadata  map[string]string   `json:"metadata" validate:"max=20"`
}

type confirmRequest struct {
	BookingID string `json:"booking_id" validate:"required"`
	IntentID  string `json:"intent_id" validate:"required"`
}

type refundRequest struct {
	BookingID string              `json:"booking_id" validate:"required"`
	Amount    decimal.NullDecimal `json:"amount"`
	Reason    string              `json:"reason" validate:"max=200"`
}

type validatePromoRequest struct {
	Code   string          `json:"code" validate:"required,max=64"`
	Amount decimal.Decimal `json:"amount"`
}

// decodeBody reads a JSON body into v and validates it. On failure the error
// response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describe(err))
		return false
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
