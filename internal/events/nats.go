package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/types"
)

// NATSPublisher publishes JSON events under a subject prefix:
// epoch records on <prefix>.epoch, run status on <prefix>, and failed runs
// additionally on <prefix>.error.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher connects to url and publishes under prefix.
func NewNATSPublisher(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("summarizer"))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Close flushes buffered messages and closes the connection.
func (n *NATSPublisher) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Flush(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to flush NATS connection")
	}
	n.conn.Close()
}

// PublishEpoch implements Publisher.
func (n *NATSPublisher) PublishEpoch(_ context.Context, record types.EpochRecord) error {
	return n.publish(n.prefix+".epoch", record, record.RunID)
}

// PublishRunStatus implements Publisher.
func (n *NATSPublisher) PublishRunStatus(_ context.Context, event RunStatusEvent) error {
	if err := n.publish(n.prefix, event, event.RunID); err != nil {
		return err
	}
	if event.State == types.TrainerStateFailed {
		if err := n.publish(n.prefix+".error", event, event.RunID); err != nil {
			n.logger.Warn().Err(err).Str("run_id", event.RunID).Msg("Failed to publish failure alert")
		}
	}
	return nil
}

func (n *NATSPublisher) publish(subject string, v any, runID string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Str("run_id", runID).Msg("Failed to publish event")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.logger.Debug().Str("subject", subject).Str("run_id", runID).Int("bytes", len(data)).Msg("Published event")
	return nil
}
