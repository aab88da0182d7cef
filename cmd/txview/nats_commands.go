package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/txview/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand tails relayed transaction events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to relayed transaction events",
		ArgsUsage: "[sender_address]",
		Description: `Streams transaction events from NATS JetStream. With an address, only that
sender's events are shown; without one, every sender's.

Example:
  txview nats subscribe 8Kag8CqNdCX55s4A5W4iraS71h6mv6uTHqsJbexdrrZm --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (used with --durable)",
				Value: "txview-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay the whole stream instead of only new events",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: sender address")
			}

			subject := natspkg.StreamSubjects
			if address := c.Args().First(); address != "" {
				subject = natspkg.Subject(address)
			}

			nc, err := natspkg.Connect(c.String("nats-url"), "txview-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			cfg := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				cfg.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				cfg.Durable = c.String("consumer-name")
				cfg.Name = c.String("consumer-name")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !wantJSON(c) {
				fmt.Fprintf(os.Stderr, "Subscribing to %s on %s (Ctrl-C to exit)\n", subject, c.String("nats-url"))
			}

			msgs := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgs <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case <-ctx.Done():
					fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
					return nil
				case msg := <-msgs:
					var event natspkg.TransactionEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					count++

					if err := printEvent(c, count, &event); err != nil {
						return err
					}
					msg.Ack()
				}
			}
		},
	}
}

func printEvent(c *cli.Context, n int, event *natspkg.TransactionEvent) error {
	if wantJSON(c) {
		filters := c.StringSlice("jq")
		if len(filters) == 0 {
			return json.NewEncoder(c.App.Writer).Encode(event)
		}
		return writeJSON(c.App.Writer, event, filters)
	}

	tx := event.Transaction
	w := c.App.Writer
	if tx == nil {
		fmt.Fprintf(w, "Transaction #%d: empty event\n\n", n)
		return nil
	}
	fmt.Fprintf(w, "Transaction #%d\n", n)
	fmt.Fprintf(w, "  ID:        %s\n", tx.ID)
	fmt.Fprintf(w, "  From:      %s\n", tx.FromAddress)
	fmt.Fprintf(w, "  Status:    %s\n", tx.TxStatus)
	fmt.Fprintf(w, "  Type:      %s\n", tx.TxType)
	fmt.Fprintf(w, "  Payload:   %s\n", tx.PayloadKind())
	if tx.TxHash != "" {
		fmt.Fprintf(w, "  Hash:      %s\n", tx.TxHash)
	}
	fmt.Fprintf(w, "  Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return nil
}
