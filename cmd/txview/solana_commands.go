package main

import (
	"context"
	"fmt"

	"github.com/brojonat/txview/client"
	"github.com/brojonat/txview/service/wallet"
	"github.com/urfave/cli/v2"
)

func solanaCommands() *cli.Command {
	return &cli.Command{
		Name:  "solana",
		Usage: "Solana payload commands against the HTTP API",
		Subcommands: []*cli.Command{
			solanaBuildCommand(),
			solanaFetchCommand(),
		},
	}
}

func solanaBuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build an unsigned transfer payload with a fresh blockhash",
		Description: `Builds a system transfer, or an SPL token transfer when --mint is set.

Example:
  txview solana build --fee-payer <addr> --to <addr> --lamports 5000`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "fee-payer",
				Usage:    "Fee payer address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "lamports",
				Usage: "Lamports for a system transfer",
			},
			&cli.StringFlag{
				Name:  "mint",
				Usage: "SPL token mint address",
			},
			&cli.Uint64Flag{
				Name:  "amount",
				Usage: "Token amount in base units for an SPL transfer",
			},
			&cli.Uint64Flag{
				Name:  "max-retries",
				Usage: "sendOptions.maxRetries (omitted when 0)",
			},
			&cli.BoolFlag{
				Name:  "skip-preflight",
				Usage: "Set sendOptions.skipPreflight",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			req := client.TransferRequest{
				FeePayer:     c.String("fee-payer"),
				To:           c.String("to"),
				Lamports:     c.Uint64("lamports"),
				SPLTokenMint: c.String("mint"),
				Amount:       c.Uint64("amount"),
				SendOptions:  sendOptionsFromFlags(c),
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			data, err := cl.BuildSolanaTransfer(context.Background(), req)
			if err != nil {
				return fmt.Errorf("failed to build transfer: %w", err)
			}
			return outputJSON(c, data)
		},
	}
}

func solanaFetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch the payload of a landed transaction",
		ArgsUsage: "<signature>",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			data, err := cl.GetSolanaTransaction(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to fetch transaction: %w", err)
			}
			return outputJSON(c, data)
		},
	}
}

func sendOptionsFromFlags(c *cli.Context) *wallet.SolanaSendOptions {
	if !c.IsSet("max-retries") && !c.IsSet("skip-preflight") {
		return nil
	}
	opts := &wallet.SolanaSendOptions{}
	if n := c.Uint64("max-retries"); n > 0 {
		opts.MaxRetries = &n
	}
	if c.IsSet("skip-preflight") {
		skip := c.Bool("skip-preflight")
		opts.SkipPreflight = &skip
	}
	return opts
}
