package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/txview/service/serialize"
	"github.com/brojonat/txview/service/wallet"
	"github.com/urfave/cli/v2"
)

func serializeCommand() *cli.Command {
	return &cli.Command{
		Name:      "serialize",
		Usage:     "Convert backend transaction records into their serializable form",
		ArgsUsage: "[file]",
		Description: `Reads one backend record (a JSON object) or several (a JSON array) from
the file, or from stdin when no file is given, and prints the converted form.

Example:
  txview serialize tx.json --jq '.txDataUnion.solanaTxData.lamports'`,
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: input file")
			}

			var in io.Reader = c.App.Reader
			if in == nil {
				in = os.Stdin
			}
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

			records := serialize.MakeTransactions(txs)
			if many {
				return outputJSON(c, records)
			}
			return outputJSON(c, records[0])
		},
	}
}

// readTransactions decodes a single record or an array of records. many
// reports whether the input was an array.
func readTransactions(r io.Reader) (txs []*wallet.TransactionInfo, many bool, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, fmt.Errorf("input is empty")
	}

	if data[0] == '[' {
		if err := json.Unmarshal(data, &txs); err != nil {
			return nil, true, fmt.Errorf("failed to decode transactions: %w", err)
		}
		return txs, true, nil
	}

	var tx wallet.TransactionInfo
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, false, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return []*wallet.TransactionInfo{&tx}, false, nil
}
