package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txview/service/db"
	"github.com/brojonat/txview/service/metrics"
	natspkg "github.com/brojonat/txview/service/nats"
	"github.com/brojonat/txview/service/serialize"
	"github.com/brojonat/txview/service/wallet"
)

// ListUnpublishedInput contains parameters for the ListUnpublishedTransactions activity.
type ListUnpublishedInput struct {
	Limit int `json:"limit"`
}

// ListUnpublishedResult contains the backend records awaiting relay.
type ListUnpublishedResult struct {
	Transactions []*wallet.TransactionInfo `json:"transactions"`
}

// PublishTransactionsInput contains the backend records to serialize and publish.
type PublishTransactionsInput struct {
	Transactions []*wallet.TransactionInfo `json:"transactions"`
}

// PublishTransactionsResult lists the ids that made it onto the stream and
// the ids that did not.
type PublishTransactionsResult struct {
	PublishedIDs []string `json:"published_ids"`
	FailedIDs    []string `json:"failed_ids,omitempty"`
	Failed       int      `json:"failed"`
}

// MarkPublishedInput contains the ids to stamp as published and the ids
// whose failed attempt counter should be bumped.
type MarkPublishedInput struct {
	IDs       []string `json:"ids"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// MarkPublishedResult contains the number of rows stamped and deferred.
type MarkPublishedResult struct {
	Marked   int64 `json:"marked"`
	Deferred int64 `json:"deferred"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ListUnpublishedTransactions(ctx context.Context, limit int32) ([]*db.Transaction, error)
	MarkTransactionsPublished(ctx context.Context, ids []string, at time.Time) (int64, error)
	RecordPublishFailures(ctx context.Context, ids []string) (int64, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishTransactionBatch(ctx context.Context, events []*natspkg.TransactionEvent) ([]string, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ListUnpublishedTransactions loads up to input.Limit records the relay has not published.
func (a *Activities) ListUnpublishedTransactions(ctx context.Context, input ListUnpublishedInput) (*ListUnpublishedResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("ListUnpublishedTransactions", d)
	})()

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultRelayBatchSize
	}

	rows, err := a.store.ListUnpublishedTransactions(ctx, int32(limit))
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list unpublished transactions", "error", err)
		return nil, fmt.Errorf("failed to list unpublished transactions: %w", err)
	}

	result := &ListUnpublishedResult{
		Transactions: make([]*wallet.TransactionInfo, 0, len(rows)),
	}
	for _, row := range rows {
		info := row.Info
		result.Transactions = append(result.Transactions, &info)
	}

	a.logger.DebugContext(ctx, "listed unpublished transactions", "count", len(result.Transactions))
	return result, nil
}

// PublishTransactions converts each record to its serializable form and
// publishes it. Records that fail to publish are left out of the result so
// the next run picks them up again.
func (a *Activities) PublishTransactions(ctx context.Context, input PublishTransactionsInput) (*PublishTransactionsResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("PublishTransactions", d)
	})()

	if len(input.Transactions) == 0 {
		return &PublishTransactionsResult{PublishedIDs: []string{}}, nil
	}

	events := make([]*natspkg.TransactionEvent, 0, len(input.Transactions))
	for _, tx := range input.Transactions {
		record := serialize.MakeTransaction(tx)
		if record == nil {
			continue
		}
		a.metrics.RecordTransactionSerialized("relay", record.PayloadKind())
		events = append(events, natspkg.NewTransactionEvent(record))
	}

	published, err := a.publisher.PublishTransactionBatch(ctx, events)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transaction batch", "error", err)
		return nil, fmt.Errorf("failed to publish transactions: %w", err)
	}

	ok := make(map[string]bool, len(published))
	for _, id := range published {
		ok[id] = true
	}
	result := &PublishTransactionsResult{PublishedIDs: published}
	for _, tx := range input.Transactions {
		if tx != nil && !ok[tx.ID] {
			result.FailedIDs = append(result.FailedIDs, tx.ID)
		}
	}
	result.Failed = len(result.FailedIDs)
	a.metrics.RecordTransactionsRelayed("published", len(published))
	if result.Failed > 0 {
		a.metrics.RecordTransactionsRelayed("failed", result.Failed)
		a.logger.WarnContext(ctx, "some transactions failed to publish",
			"published", len(published),
			"failed", result.Failed,
		)
	}

	return result, nil
}

// MarkTransactionsPublished stamps the published ids so they are not relayed
// again, and records a failed attempt against the rest.
func (a *Activities) MarkTransactionsPublished(ctx context.Context, input MarkPublishedInput) (*MarkPublishedResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("MarkTransactionsPublished", d)
	})()

	marked, err := a.store.MarkTransactionsPublished(ctx, input.IDs, time.Now().UTC())
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to mark transactions published",
			"count", len(input.IDs),
			"error", err,
		)
		return nil, fmt.Errorf("failed to mark transactions published: %w", err)
	}

	result := &MarkPublishedResult{Marked: marked}
	if len(input.FailedIDs) > 0 {
		deferred, err := a.store.RecordPublishFailures(ctx, input.FailedIDs)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to record publish failures",
				"count", len(input.FailedIDs),
				"error", err,
			)
			return nil, fmt.Errorf("failed to record publish failures: %w", err)
		}
		result.Deferred = deferred
	}

	a.logger.DebugContext(ctx, "marked transactions published",
		"requested", len(input.IDs),
		"marked", marked,
		"deferred", result.Deferred,
	)
	return result, nil
}
