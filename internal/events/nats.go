package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes each event on SubjectPrefix+topic.
type NATSPublisher struct {
	Conn          Conn
	SubjectPrefix string
}

// Publish encodes the event as JSON. The event id is sent as Nats-Msg-Id
// so JetStream streams can de-duplicate redeliveries.
func (p NATSPublisher) Publish(ctx context.Context, event Event) error {
	if p.Conn == nil {
		return errors.New("nats publisher not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.SubjectPrefix + event.Topic)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	msg.Header.Set("Content-Type", "application/json")
	return p.Conn.PublishMsg(msg)
}

// DialNATS connects with unlimited reconnects and logs connection changes.
func DialNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats_disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats_reconnected")
		}),
	)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Publish logs the event.
func (p LogPublisher) Publish(_ context.Context, event Event) error {
	p.Logger.Info().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", event.Payload).
		Msg("domain_event")
	return nil
}
