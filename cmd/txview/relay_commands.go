package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/txview/service/temporal"
	"github.com/urfave/cli/v2"
)

func relayCommands() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Relay workflow commands",
		Subcommands: []*cli.Command{
			relayRunCommand(),
			relayScheduleCommand(),
		},
	}
}

func relayRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one relay pass now and wait for its result",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum records to relay",
				Value: temporal.DefaultRelayBatchSize,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the workflow",
				Value: 2 * time.Minute,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			relay, closer, err := getRelayClient(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := relay.RunRelay(ctx, c.Int("batch-size"))
			if err != nil {
				return err
			}

			if wantJSON(c) {
				return outputJSON(c, result)
			}

			fmt.Fprintf(c.App.Writer, "Listed:    %d\n", result.Listed)
			fmt.Fprintf(c.App.Writer, "Published: %d\n", result.Published)
			fmt.Fprintf(c.App.Writer, "Failed:    %d\n", result.Failed)
			fmt.Fprintf(c.App.Writer, "Marked:    %d\n", result.Marked)
			fmt.Fprintf(c.App.Writer, "Deferred:  %d\n", result.Deferred)
			if result.Error != nil {
				fmt.Fprintf(c.App.Writer, "Error:     %s\n", *result.Error)
			}
			return nil
		},
	}
}

func relayScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Create or update the relay schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Relay interval",
				Value: 15 * time.Second,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum records per relay pass",
				Value: temporal.DefaultRelayBatchSize,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Duration("interval") < time.Second {
				return fmt.Errorf("--interval must be at least 1s")
			}

			relay, closer, err := getRelayClient(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := relay.EnsureRelaySchedule(context.Background(), c.Duration("interval"), c.Int("batch-size")); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Schedule %s runs every %s\n", temporal.RelayScheduleID, c.Duration("interval"))
			return nil
		},
	}
}

func getRelayClient(c *cli.Context) (*temporal.Client, func(), error) {
	logger := cliLogger()
	tc, err := temporal.Dial(c.String("temporal-host"), c.String("temporal-namespace"), logger)
	if err != nil {
		return nil, nil, err
	}
	return temporal.NewClient(tc, c.String("temporal-task-queue"), logger), tc.Close, nil
}
