package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txview/service/metrics"
	natspkg "github.com/brojonat/txview/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepaliveInterval = 10 * time.Second

// SSEPublisher fans relayed transaction events out to Server-Sent Events clients.
type SSEPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "txview-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// streamSubject returns the JetStream filter subject for an SSE route.
// An empty address streams every sender.
func streamSubject(address string) (subject, desc string) {
	if address == "" {
		return natspkg.StreamSubjects, "all senders"
	}
	return natspkg.Subject(address), address
}

// handleStreamTransactions handles SSE streaming for transactions.
// GET /api/v1/stream/transactions[/{address}]
func handleStreamTransactions(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		address := r.PathValue("address")
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		subject, desc := streamSubject(address)

		// The server's write timeout must not cut off a long-lived stream.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(ctx, "cannot clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush := func() {
			if err := rc.Flush(); err != nil {
				logger.DebugContext(ctx, "flush failed", "error", err)
			}
		}
		flush()

		publisher.metrics.RecordSSEConnectionChange(1)
		defer publisher.metrics.RecordSSEConnectionChange(-1)

		logger.DebugContext(ctx, "SSE client connected",
			"sender", desc,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer for this connection; only new messages.
		cons, err := publisher.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer",
				"sender", desc,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			flush()
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				logger.ErrorContext(ctx, "failed to start consuming messages", "error", err)
				return
			}
			<-ctx.Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"sender": desc, "subject": subject})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()
		publisher.metrics.RecordSSEEventSent("connected")

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				data, id, err := encodeStreamEvent(msg.Data())
				if err != nil {
					logger.WarnContext(ctx, "dropping malformed event", "error", err)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", data)
				flush()
				msg.Ack()
				publisher.metrics.RecordSSEEventSent("transaction")

				logger.DebugContext(ctx, "sent transaction event",
					"sender", desc,
					"id", id,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"sender", desc,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}

// encodeStreamEvent validates a stream message and re-encodes it on one line.
func encodeStreamEvent(raw []byte) ([]byte, string, error) {
	var event natspkg.TransactionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Transaction == nil {
		return nil, "", fmt.Errorf("event has no transaction")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, event.ID(), nil
}
