package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// compileJQ parses and compiles each filter.
func compileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// applyJQ runs v through the filters as a pipeline. Every output of one
// filter is fed to the next.
func applyJQ(codes []*gojq.Code, v any) ([]any, error) {
	// gojq only accepts plain JSON values, not Go structs.
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value for jq: %w", err)
	}
	var input any
	if err := json.Unmarshal(b, &input); err != nil {
		return nil, fmt.Errorf("failed to decode value for jq: %w", err)
	}

	values := []any{input}
	for _, code := range codes {
		var next []any
		for _, in := range values {
			iter := code.Run(in)
			for {
				out, ok := iter.Next()
				if !ok {
					break
				}
				if err, isErr := out.(error); isErr {
					return nil, fmt.Errorf("jq filter failed: %w", err)
				}
				next = append(next, out)
			}
		}
		values = next
	}
	return values, nil
}

// writeJSON writes v as indented JSON, or each jq result on its own line
// when filters are given.
func writeJSON(w io.Writer, v any, filters []string) error {
	if len(filters) == 0 {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	codes, err := compileJQ(filters)
	if err != nil {
		return err
	}
	results, err := applyJQ(codes, v)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func jqFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "jq",
		Usage: "jq filter applied to JSON output (repeatable, applied in order)",
	}
}

// outputJSON writes v to the app's writer honoring --jq.
func outputJSON(c *cli.Context, v any) error {
	return writeJSON(c.App.Writer, v, c.StringSlice("jq"))
}

// wantJSON reports whether structured output was requested.
func wantJSON(c *cli.Context) bool {
	return c.Bool("json") || len(c.StringSlice("jq")) > 0
}

// cliLogger only surfaces errors so command output stays clean.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
