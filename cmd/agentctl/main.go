// cmd/agentctl is a diagnostic CLI for operators, built with Cobra — the
// same pattern as the teacher's cmd/client kvcli, pointed at one agent
// node instead of a KV cluster.
//
// Usage:
//
//	agentctl health <addr>
//	agentctl ingest <addr> '{"temp_c":21.4}'
//	agentctl flush <addr>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"edge-agent/internal/client"
)

var timeout time.Duration

func main() {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Diagnostic CLI for an Edge Agent node",
	}

	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	root.AddCommand(healthCmd(), ingestCmd(), flushCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health <addr>",
		Short: "Fetch the agent's health snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(args[0], timeout)
			resp, err := c.Health(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <addr> <json-payload>",
		Short: "Post one event to the agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("invalid JSON payload: %w", err)
			}

			c := client.New(args[0], timeout)
			resp, err := c.Ingest(context.Background(), payload, "", nil)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <addr>",
		Short: "Force the agent to close its current slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(args[0], timeout)
			resp, err := c.Flush(context.Background(), float64(time.Now().Unix()))
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
