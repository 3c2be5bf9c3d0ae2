package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

const (
	omiseEventChargeComplete = "charge.complete"
	omiseChargeSuccessful    = "successful"
	omiseChargeFailed        = "failed"
)

// OmiseProvider charges through Omise sources (PromptPay by default).
type OmiseProvider struct {
	client     *omise.Client
	sourceType string
}

func NewOmiseProvider(publicKey, secretKey, sourceType string) (*OmiseProvider, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	client.SetDebug(false)
	return &OmiseProvider{client: client, sourceType: sourceType}, nil
}

// CreateIntent creates a source of the configured type and a charge bound to it.
func (p *OmiseProvider) CreateIntent(_ context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	amount, err := ToMinor(req.Amount)
	if err != nil {
		return nil, err
	}
	currency := strings.ToLower(req.Currency)

	src := &omise.Source{}
	if err := p.client.Do(src, &operations.CreateSource{
		Type:     p.sourceType,
		Amount:   amount,
		Currency: currency,
	}); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	meta := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	ch := &omise.Charge{}
	if err := p.client.Do(ch, &operations.CreateCharge{
		Amount:   amount,
		Currency: currency,
		Source:   src.ID,
		Metadata: meta,
	}); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}

	intent := chargeToIntent(ch)
	if intent.ClientHandle == "" {
		intent.ClientHandle = src.ID
	}
	return intent, nil
}

func (p *OmiseProvider) RetrieveIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	ch := &omise.Charge{}
	if err := p.client.Do(ch, &operations.RetrieveCharge{ChargeID: id}); err != nil {
		return nil, fmt.Errorf("retrieve charge: %w", err)
	}
	return chargeToIntent(ch), nil
}

func (p *OmiseProvider) Refund(_ context.Context, req models.RefundRequest) (*models.Refund, error) {
	amount, err := ToMinor(req.Amount)
	if err != nil {
		return nil, err
	}
	refund := &omise.Refund{}
	if err := p.client.Do(refund, &operations.CreateRefund{ChargeID: req.IntentID, Amount: amount}); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &models.Refund{ID: refund.ID, Amount: FromMinor(refund.Amount)}, nil
}

// ResolveEvent re-fetches the event by id so that only data held by Omise is trusted.
func (p *OmiseProvider) ResolveEvent(_ context.Context, raw []byte) (*models.ProviderEvent, error) {
	var inc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &inc); err != nil || inc.ID == "" {
		return nil, domain.ErrInvalidPayload
	}

	ev := &omise.Event{}
	if err := p.client.Do(ev, &operations.RetrieveEvent{EventID: inc.ID}); err != nil {
		return nil, fmt.Errorf("retrieve event: %w", err)
	}
	if ev.Key != omiseEventChargeComplete {
		return &models.ProviderEvent{ID: ev.ID, Type: ev.Key}, nil
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("%w: charge data", domain.ErrInvalidPayload)
	}
	return chargeEvent(ev.ID, &ch), nil
}

func chargeToIntent(ch *omise.Charge) *models.PaymentIntent {
	intent := &models.PaymentIntent{
		ID:           ch.ID,
		ClientHandle: ch.AuthorizeURI,
		Amount:       FromMinor(ch.Amount),
		Currency:     strings.ToUpper(ch.Currency),
		Status:       chargeStatus(string(ch.Status)),
		Metadata:     make(map[string]string, len(ch.Metadata)),
	}
	for k, v := range ch.Metadata {
		if s, ok := v.(string); ok {
			intent.Metadata[k] = s
		}
	}
	return intent
}

func chargeStatus(s string) string {
	switch s {
	case omiseChargeSuccessful:
		return models.IntentSucceeded
	case omiseChargeFailed:
		return models.IntentFailed
	default:
		return models.IntentPending
	}
}

// chargeEvent maps a completed charge to a normalized event. Pending charges
// keep a provider-specific type and are ignored downstream.
func chargeEvent(eventID string, ch *omise.Charge) *models.ProviderEvent {
	intent := chargeToIntent(ch)
	out := &models.ProviderEvent{
		ID:        eventID,
		IntentID:  ch.ID,
		BookingID: intent.BookingID(),
	}
	switch intent.Status {
	case models.IntentSucceeded:
		out.Type = models.EventPaymentSucceeded
	case models.IntentFailed:
		out.Type = models.EventPaymentFailed
		if ch.FailureCode != nil {
			out.FailureReason = *ch.FailureCode
		}
		if ch.FailureMessage != nil {
			out.FailureReason = strings.TrimSpace(out.FailureReason + " " + *ch.FailureMessage)
		}
	default:
		out.Type = omiseEventChargeComplete + "." + string(ch.Status)
	}
	return out
}
