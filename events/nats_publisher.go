package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const natsPublisherLogPrefix = "events:nats_publisher"

// DefaultSubjectPrefix is prepended to the event kind to form the subject,
// e.g. "ocpp.events.call.timeout".
const DefaultSubjectPrefix = "ocpp.events"

// NATSPublisherOpts configures NATSPublisher. Nil or zero values use defaults.
type NATSPublisherOpts struct {
	SubjectPrefix string
}

// NATSPublisher publishes events to NATS subjects, one subject per event kind.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a new NATSPublisher. Pass nil for opts to use defaults.
func NewNATSPublisher(nc *nats.Conn, opts *NATSPublisherOpts) *NATSPublisher {
	prefix := DefaultSubjectPrefix
	if opts != nil && opts.SubjectPrefix != "" {
		prefix = opts.SubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject events of kind are published to.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

func (p *NATSPublisher) Publish(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", natsPublisherLogPrefix, err)
	}

	subject := p.Subject(event.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", natsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for %s", natsPublisherLogPrefix, event.Kind, event.ChargePointID))
	return nil
}
