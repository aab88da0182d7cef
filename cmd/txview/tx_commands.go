package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brojonat/txview/client"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Transaction commands against the HTTP API",
		Subcommands: []*cli.Command{
			txGetCommand(),
			txListCommand(),
			txCreateCommand(),
		},
	}
}

func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, cliLogger()), nil
}

func txGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a transaction by id",
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			tx, err := cl.GetTransaction(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			return outputJSON(c, tx)
		},
	}
}

func txListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List a sender's transactions",
		Aliases:   []string{"ls"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions (server default when 0)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: sender address")
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			page, err := cl.ListTransactions(context.Background(), c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, page)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tTX HASH\tCREATED (us)")
			for _, tx := range page.Transactions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\n",
					tx.ID,
					tx.TxStatus,
					tx.TxType,
					orDash(tx.TxHash),
					tx.CreatedTime.Microseconds,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transactions\n", len(page.Transactions), page.Total)
			return nil
		},
	}
}

func txCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Store a backend record read from a file or stdin",
		ArgsUsage: "[file]",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			in := c.App.Reader
			if path := c.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			txs, many, err := readTransactions(in)
			if err != nil {
				return err
			}
			if many {
				return fmt.Errorf("create accepts a single record, got an array")
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			created, err := cl.CreateTransaction(context.Background(), txs[0])
			if err != nil {
				return fmt.Errorf("failed to create transaction: %w", err)
			}
			return outputJSON(c, created)
		},
	}
}
