// Package registry maps outbox rows to their Pub/Sub topic and typed payload.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is a validated row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func decoder[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// NewEventRegistry routes every event to cfg.DomainTopic unless its aggregate
// type has an entry in cfg.AggregateTopics.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	fallback := strings.TrimSpace(cfg.DomainTopic)
	if fallback == "" {
		return nil, errors.New("domain topic is required")
	}
	topics := map[enums.OutboxAggregateType]string{}
	for aggregate, topic := range cfg.AggregateTopics {
		at := enums.OutboxAggregateType(strings.TrimSpace(aggregate))
		if !at.IsValid() {
			return nil, fmt.Errorf("unknown aggregate type %q in topic routing", aggregate)
		}
		if topic = strings.TrimSpace(topic); topic == "" {
			return nil, fmt.Errorf("empty topic for aggregate %q", aggregate)
		}
		topics[at] = topic
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, d := range []EventDescriptor{
		{EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, decode: decoder[payloads.OrderPlacedEvent]()},
		{EventType: enums.EventOrderCancelled, AggregateType: enums.AggregateOrder, decode: decoder[payloads.OrderCancelledEvent]()},
		{EventType: enums.EventOrderCompleted, AggregateType: enums.AggregateOrder, decode: decoder[payloads.OrderCompletedEvent]()},
		{EventType: enums.EventPaymentStatusChanged, AggregateType: enums.AggregatePaymentIntent, decode: decoder[payloads.PaymentStatusChangedEvent]()},
		{EventType: enums.EventShipmentStatusChanged, AggregateType: enums.AggregateShipment, decode: decoder[payloads.ShipmentStatusChangedEvent]()},
	} {
		d.Topic = fallback
		if topic, ok := topics[d.AggregateType]; ok {
			d.Topic = topic
		}
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists every distinct destination topic.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.entries {
		if !seen[d.Topic] {
			seen[d.Topic] = true
			out = append(out, d.Topic)
		}
	}
	return out
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	d, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case d.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", d.AggregateType, event.AggregateType)
	case event.AggregateID == 0:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal([]byte(event.Payload), &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}
	payload, err := d.decode(envelope.Data)
	if err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: d, Envelope: envelope, Payload: payload}, nil
}
