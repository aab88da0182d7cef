package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultRelayBatchSize is used when a relay input leaves BatchSize unset.
const DefaultRelayBatchSize = 100

// RelayTransactionsInput contains the input parameters for one relay run.
type RelayTransactionsInput struct {
	BatchSize int `json:"batch_size"`
}

// RelayTransactionsResult summarizes one relay run.
type RelayTransactionsResult struct {
	Listed    int       `json:"listed"`
	Published int       `json:"published"`
	Failed    int       `json:"failed"`
	Marked    int64     `json:"marked"`
	Deferred  int64     `json:"deferred"`
	RunTime   time.Time `json:"run_time"`
	Error     *string   `json:"error,omitempty"`
}

// RelayTransactionsWorkflow moves stored transactions onto the NATS stream.
// It is triggered by a Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Load a batch of unpublished records (ListUnpublishedTransactions)
// 2. Serialize and publish them (PublishTransactions)
// 3. Stamp the published ids and count a failed attempt against the rest
//    (MarkTransactionsPublished)
//
// A record is only stamped after JetStream accepted it, so a crash between
// steps 2 and 3 republishes rather than drops.
func RelayTransactionsWorkflow(ctx workflow.Context, input RelayTransactionsInput) (*RelayTransactionsResult, error) {
	logger := workflow.GetLogger(ctx)
	start := workflow.Now(ctx)

	result := &RelayTransactionsResult{RunTime: start}

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultRelayBatchSize
	}
	logger.Info("RelayTransactionsWorkflow started", "batch_size", batchSize)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	fail := func(step string, err error) (*RelayTransactionsResult, error) {
		errMsg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	var listed *ListUnpublishedResult
	err := workflow.ExecuteActivity(ctx, a.ListUnpublishedTransactions, ListUnpublishedInput{Limit: batchSize}).Get(ctx, &listed)
	if err != nil {
		return fail("list unpublished transactions", err)
	}
	result.Listed = len(listed.Transactions)
	if result.Listed == 0 {
		logger.Debug("nothing to relay")
		return result, nil
	}

	var published *PublishTransactionsResult
	err = workflow.ExecuteActivity(ctx, a.PublishTransactions, PublishTransactionsInput{Transactions: listed.Transactions}).Get(ctx, &published)
	if err != nil {
		return fail("publish transactions", err)
	}
	result.Published = len(published.PublishedIDs)
	result.Failed = published.Failed
	if result.Published == 0 {
		logger.Warn("no transactions were published", "failed", result.Failed)
	}
	if result.Published == 0 && len(published.FailedIDs) == 0 {
		return result, nil
	}

	markInput := MarkPublishedInput{IDs: published.PublishedIDs, FailedIDs: published.FailedIDs}
	var marked *MarkPublishedResult
	err = workflow.ExecuteActivity(ctx, a.MarkTransactionsPublished, markInput).Get(ctx, &marked)
	if err != nil {
		return fail("mark transactions published", err)
	}
	result.Marked = marked.Marked
	result.Deferred = marked.Deferred

	logger.Info("RelayTransactionsWorkflow completed",
		"listed", result.Listed,
		"published", result.Published,
		"failed", result.Failed,
		"marked", result.Marked,
		"deferred", result.Deferred,
	)

	return result, nil
}
