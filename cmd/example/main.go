// Command example runs a pure map+sum end-to-end scenario: map
// increment over a list of integers, then reduce with add. It exercises
// the local runner by default and the remote runner with --remote, the
// same dual-path tensorlake.Run/RunRemote surface a real application would
// use, as a small cobra-driven demo binary: a root command, persistent
// flags, one RunE.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	tensorlake "github.com/tensorlake/sdk-go"
	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/internal/logging"
)

func increment(x int) (int, error) { return x + 1, nil }

func add(a, b int) (int, error) { return a + b, nil }

// mapSum is the application entry point. It returns a Reduce awaitable
// instead of a resolved value: the runner tail-calls it, so the function
// itself never blocks on the map it describes.
func mapSum(xs []int) (any, error) {
	items := make([]any, len(xs))
	for i, x := range xs {
		items[i] = awaitable.NewCall("increment", []any{x}, nil)
	}
	return awaitable.NewReduce("add", items)
}

func registerDemo() error {
	if err := tensorlake.Function("increment", increment); err != nil {
		return err
	}
	if err := tensorlake.Function("add", add); err != nil {
		return err
	}
	return tensorlake.Application("map_sum", mapSum)
}

func main() {
	var (
		remote    bool
		baseURL   string
		namespace string
		token     string
		xsRaw     string
		logFormat string
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "example",
		Short: "Run the map+sum demo application",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitStructured(logFormat, logLevel)

			if err := registerDemo(); err != nil {
				return err
			}
			logging.Op().Info("registered demo application", "application", "map_sum")

			xs, err := parseInts(xsRaw)
			if err != nil {
				return err
			}

			var result any
			if remote {
				if baseURL == "" {
					return fmt.Errorf("--base-url is required with --remote")
				}
				result, err = tensorlake.RunRemote(context.Background(), baseURL, namespace, token, "map_sum", []any{xs}, nil)
			} else {
				result, err = tensorlake.Run("map_sum", []any{xs}, nil)
			}
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}

	root.Flags().BoolVar(&remote, "remote", false, "submit to a remote scheduler instead of running locally")
	root.Flags().StringVar(&baseURL, "base-url", "", "scheduler base URL (required with --remote)")
	root.Flags().StringVar(&namespace, "namespace", "default", "scheduler namespace")
	root.Flags().StringVar(&token, "token", "", "bearer credential")
	root.Flags().StringVar(&xsRaw, "xs", "1,2,3", "comma-separated integers to map+reduce")
	root.Flags().StringVar(&logFormat, "log-format", "text", "operational log format: text or json")
	root.Flags().StringVar(&logLevel, "log-level", "info", "operational log level: debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseInts(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parsing --xs: %w", err)
		}
		out[i] = n
	}
	return out, nil
}
