package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Native event types of the in-memory provider.
const (
	MemoryEventSucceeded = "intent.succeeded"
	MemoryEventFailed    = "intent.failed"
)

var ErrIntentNotFound = errors.New("intent not found")

// MemoryEvent is the webhook body the in-memory provider emits.
type MemoryEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intent_id"`
	Reason   string `json:"reason,omitempty"`
}

type memoryIntent struct {
	intent   models.PaymentIntent
	refunded decimal.Decimal
	reason   string
}

// MemoryProvider is a process-local provider for development and tests.
type MemoryProvider struct {
	mu      sync.Mutex
	intents map[string]*memoryIntent
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{intents: make(map[string]*memoryIntent)}
}

func (p *MemoryProvider) CreateIntent(_ context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	if _, err := ToMinor(req.Amount); err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	intent := models.PaymentIntent{
		ID:           "pi_" + uuid.NewString(),
		ClientHandle: "secret_" + uuid.NewString(),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       models.IntentPending,
		Metadata:     meta,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[intent.ID] = &memoryIntent{intent: intent, refunded: decimal.Zero}
	out := intent
	return &out, nil
}

func (p *MemoryProvider) RetrieveIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mi, ok := p.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	out := mi.intent
	return &out, nil
}

func (p *MemoryProvider) Refund(_ context.Context, req models.RefundRequest) (*models.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mi, ok := p.intents[req.IntentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, req.IntentID)
	}
	if mi.intent.Status != models.IntentSucceeded {
		return nil, fmt.Errorf("intent %s is %s, cannot refund", req.IntentID, mi.intent.Status)
	}
	if mi.refunded.Add(req.Amount).GreaterThan(mi.intent.Amount) {
		return nil, fmt.Errorf("refund exceeds captured amount")
	}
	mi.refunded = mi.refunded.Add(req.Amount)
	return &models.Refund{ID: "re_" + uuid.NewString(), Amount: req.Amount}, nil
}

// Refunded reports the total refunded against the intent so far.
func (p *MemoryProvider) Refunded(intentID string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mi, ok := p.intents[intentID]; ok {
		return mi.refunded
	}
	return decimal.Zero
}

// ResolveEvent decodes a MemoryEvent. The booking id always comes from the
// stored intent, never from the body.
func (p *MemoryProvider) ResolveEvent(_ context.Context, raw []byte) (*models.ProviderEvent, error) {
	var ev MemoryEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.ID == "" {
		return nil, domain.ErrInvalidPayload
	}

	out := &models.ProviderEvent{ID: ev.ID, Type: ev.Type, IntentID: ev.IntentID, FailureReason: ev.Reason}
	switch ev.Type {
	case MemoryEventSucceeded:
		out.Type = models.EventPaymentSucceeded
	case MemoryEventFailed:
		out.Type = models.EventPaymentFailed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if mi, ok := p.intents[ev.IntentID]; ok {
		out.BookingID = mi.intent.BookingID()
	}
	return out, nil
}

// Succeed settles the intent and returns the webhook body announcing it.
func (p *MemoryProvider) Succeed(intentID string) ([]byte, error) {
	return p.settle(intentID, models.IntentSucceeded, MemoryEventSucceeded, "")
}

// Fail declines the intent and returns the webhook body announcing it.
func (p *MemoryProvider) Fail(intentID, reason string) ([]byte, error) {
	return p.settle(intentID, models.IntentFailed, MemoryEventFailed, reason)
}

func (p *MemoryProvider) settle(intentID, status, eventType, reason string) ([]byte, error) {
	p.mu.Lock()
	mi, ok := p.intents[intentID]
	if ok {
		mi.intent.Status = status
		mi.reason = reason
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	return json.Marshal(MemoryEvent{ID: "evt_" + uuid.NewString(), Type: eventType, IntentID: intentID, Reason: reason})
}
