package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txview/service/db"
	"github.com/brojonat/txview/service/serialize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// storedTransaction is the JSON form of a database row.
type storedTransaction struct {
	*serialize.TransactionInfo
	InsertedAt  time.Time  `json:"insertedAt"`
	PublishedAt *time.Time `json:"publishedAt"`
}

func makeStoredTransaction(t *db.Transaction) storedTransaction {
	return storedTransaction{
		TransactionInfo: serialize.MakeTransaction(&t.Info),
		InsertedAt:      t.InsertedAt,
		PublishedAt:     t.PublishedAt,
	}
}

func dbListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List a sender's stored transactions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Sender address",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			address := c.String("address")
			rows, err := store.ListTransactionsByAddress(ctx, db.ListTransactionsByAddressParams{
				Address: address,
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			total, err := store.CountTransactionsByAddress(ctx, address)
			if err != nil {
				return fmt.Errorf("failed to count transactions: %w", err)
			}

			if wantJSON(c) {
				out := make([]storedTransaction, len(rows))
				for i, row := range rows {
					out[i] = makeStoredTransaction(row)
				}
				return outputJSON(c, out)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tTX HASH\tCREATED (us)\tPUBLISHED")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					row.Info.ID,
					row.Info.TxStatus,
					row.Info.TxType,
					orDash(row.Info.TxHash),
					row.Info.CreatedTime.Microseconds,
					formatPublished(row.PublishedAt),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transactions\n", len(rows), total)
			return nil
		},
	}
}

func dbGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a stored transaction by id",
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			row, err := store.GetTransaction(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			// A single record is always shown as JSON; the payload does not fit a table.
			return outputJSON(c, makeStoredTransaction(row))
		},
	}
}

func dbPruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete transactions inserted before a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Delete rows inserted more than this long ago (e.g. 720h)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			age := c.Duration("older-than")
			if age <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cutoff := time.Now().Add(-age)

			if !c.Bool("force") {
				fmt.Fprintf(c.App.Writer, "Delete all transactions inserted before %s? [y/N]: ", cutoff.Format(time.RFC3339))
				var answer string
				fmt.Fscanln(c.App.Reader, &answer)
				if answer != "y" && answer != "Y" {
					fmt.Fprintln(c.App.Writer, "Aborted")
					return nil
				}
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.DeleteTransactionsOlderThan(context.Background(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune transactions: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "Deleted %d transactions\n", n)
			return nil
		},
	}
}

// getStore opens a pool against --database-url and applies the schema.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store, pool.Close, nil
}

func formatPublished(t *time.Time) string {
	if t == nil {
		return "pending"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
