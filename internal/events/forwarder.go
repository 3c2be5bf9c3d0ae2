package events

import (
	"context"
	"encoding/json"
	"time"
)

// Publisher is the outbound broker the forwarder writes to.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Envelope is the message body published to the broker.
type Envelope struct {
	Event      string          `json:"event"`
	Version    int             `json:"version"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Forwarder relays bus events to a topic exchange under "<prefix>.<event type>".
type Forwarder struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
}

func NewForwarder(pub Publisher, prefix string) *Forwarder {
	return &Forwarder{pub: pub, prefix: prefix, timeout: 5 * time.Second}
}

// Attach subscribes the forwarder to every event on bus.
func (f *Forwarder) Attach(bus *EventBus) {
	bus.Subscribe(AllEvents, f.Handle)
}

func (f *Forwarder) Handle(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	return f.pub.PublishJSON(ctx, f.prefix+"."+event.Type, Envelope{
		Event:      event.Type,
		Version:    1,
		OccurredAt: event.CreatedAt.UTC().Format(time.RFC3339),
		Data:       event.Payload,
	})
}
