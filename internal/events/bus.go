package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event emitted after an admin mutation succeeded.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Publisher delivers events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter is satisfied by *Bus.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error)
}

// Bus stamps domain events and fans them out to every publisher. A nil
// *Bus builds events without delivering them.
type Bus struct {
	Publishers []Publisher
	Now        func() time.Time
}

// Emit builds the event and hands it to each publisher in order. Publisher
// failures are joined and the event is returned either way.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	ev, err := b.stamp(topic, aggregateID, payload)
	if err != nil || b == nil {
		return ev, err
	}
	var errs []error
	for _, p := range b.Publishers {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("events: publish %s: %w", ev.Topic, err))
		}
	}
	return ev, errors.Join(errs...)
}

func (b *Bus) stamp(topic, aggregateID string, payload any) (Event, error) {
	ev := Event{
		ID:          uuid.New(),
		Topic:       strings.TrimSpace(topic),
		AggregateID: strings.TrimSpace(aggregateID),
	}
	switch {
	case ev.Topic == "":
		return Event{}, errors.New("events: topic is required")
	case ev.AggregateID == "":
		return Event{}, errors.New("events: aggregate id is required")
	}
	raw, err := payloadJSON(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev.Payload = raw
	at := time.Now()
	if b != nil && b.Now != nil {
		at = b.Now()
	}
	ev.OccurredAt = at.UTC()
	return ev, nil
}

var emptyObject = json.RawMessage("{}")

// payloadJSON marshals payload. Byte slices and strings are taken as
// already encoded JSON; empty input becomes {}.
func payloadJSON(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), raw...), nil
}
