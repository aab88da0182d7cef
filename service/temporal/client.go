package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// RelayScheduleID is the id of the single interval schedule driving the relay.
const RelayScheduleID = "relay-transactions"

// Client manages the relay schedule in Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// Dial connects to a Temporal frontend, routing SDK logs through logger.
func Dial(host, namespace string, logger *slog.Logger) (client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return c, nil
}

// NewClient wraps an existing SDK client.
func NewClient(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// EnsureRelaySchedule creates the relay schedule, or updates its interval and
// batch size when it already exists.
func (c *Client) EnsureRelaySchedule(ctx context.Context, interval time.Duration, batchSize int) error {
	action := &client.ScheduleWorkflowAction{
		ID:        "relay-transactions-run",
		Workflow:  RelayTransactionsWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{RelayTransactionsInput{BatchSize: batchSize}},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, RelayScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		var notFound *serviceerror.NotFound
		if !errors.As(err, &notFound) {
			c.logger.ErrorContext(ctx, "failed to describe relay schedule",
				"schedule_id", RelayScheduleID,
				"error", err,
			)
			return fmt.Errorf("failed to describe schedule %q: %w", RelayScheduleID, err)
		}

		c.logger.DebugContext(ctx, "relay schedule not found, creating it",
			"schedule_id", RelayScheduleID,
			"error", err,
		)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: RelayScheduleID,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: action,
			Memo: map[string]interface{}{
				"created_by": "txview",
			},
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to create relay schedule",
				"schedule_id", RelayScheduleID,
				"error", err,
			)
			return fmt.Errorf("failed to create schedule %q: %w", RelayScheduleID, err)
		}

		c.logger.InfoContext(ctx, "relay schedule created",
			"schedule_id", RelayScheduleID,
			"interval", interval,
			"batch_size", batchSize,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			if input.Description.Schedule.Spec == nil {
				input.Description.Schedule.Spec = &client.ScheduleSpec{}
			}
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = action
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to update relay schedule",
			"schedule_id", RelayScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", RelayScheduleID, err)
	}

	c.logger.InfoContext(ctx, "relay schedule updated",
		"schedule_id", RelayScheduleID,
		"interval", interval,
		"batch_size", batchSize,
	)
	return nil
}

// RunRelay executes one relay run immediately and waits for its result.
func (c *Client) RunRelay(ctx context.Context, batchSize int) (*RelayTransactionsResult, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("relay-transactions-manual-%d", time.Now().UnixNano()),
		TaskQueue: c.taskQueue,
	}, RelayTransactionsWorkflow, RelayTransactionsInput{BatchSize: batchSize})
	if err != nil {
		return nil, fmt.Errorf("failed to start relay workflow: %w", err)
	}

	var result RelayTransactionsResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("relay workflow %s failed: %w", run.GetID(), err)
	}
	return &result, nil
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
