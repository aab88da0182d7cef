package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txview/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing transaction events to NATS.
type Publisher interface {
	// PublishTransaction publishes a single transaction event to JetStream
	// on the subject "wallet.txs.{fromAddress}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishTransactionBatch publishes each event, skipping failures, and
	// returns the ids of the events that were published.
	PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) ([]string, error)

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes transaction events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for wallet transactions.
	StreamName = "WALLET_TXS"

	// SubjectPrefix prefixes the per-sender subject.
	SubjectPrefix = "wallet.txs."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// Connect dials NATS with reconnect settings shared by the publisher and subscribers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If m is nil, no metrics will be recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "txview-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.DebugContext(ctx, "JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.InfoContext(ctx, "creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Serializable wallet transaction records",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.InfoContext(ctx, "JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTransaction publishes a single transaction event.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	if event == nil || event.Transaction == nil {
		return fmt.Errorf("event has no transaction")
	}
	start := time.Now()
	subject := Subject(event.Transaction.FromAddress)

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordNATSPublish("error", time.Since(start).Seconds())
		return fmt.Errorf("failed to marshal transaction event: %w", err)
	}

	// Transaction id is the JetStream dedupe id.
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.Transaction.ID))
	if err != nil {
		p.metrics.RecordNATSPublish("error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish transaction: %w", err)
	}
	p.metrics.RecordNATSPublish("success", time.Since(start).Seconds())

	p.logger.DebugContext(ctx, "published transaction event",
		"subject", subject,
		"id", event.Transaction.ID,
	)

	return nil
}

// PublishTransactionBatch publishes events one at a time. A failed event is
// logged and skipped; it is left out of the returned ids.
func (p *JetStreamPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) ([]string, error) {
	published := make([]string, 0, len(events))
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if err := p.PublishTransaction(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish transaction in batch",
				"id", event.ID(),
				"error", err,
			)
			continue
		}
		published = append(published, event.ID())
	}

	p.logger.DebugContext(ctx, "published transaction batch",
		"requested", len(events),
		"published", len(published),
	)

	return published, nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
