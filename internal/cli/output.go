package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragflow/pkg/client"
)

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printTriggered(cmd *cobra.Command, opts *globalOptions, id string) error {
	if opts.json {
		return printJSON(cmd, map[string]string{"run_id": id})
	}
	cmd.Println(id)
	return nil
}

// waitAndPrint polls the run and prints its outcome. A poll timeout prints
// TimedOut, never failed: the run may still finish.
func waitAndPrint(cmd *cobra.Command, opts *globalOptions, c *client.Client, id string) error {
	run, err := c.Wait(cmd.Context(), id, opts.timeout)
	if errors.Is(err, client.ErrTimedOut) {
		status := "unknown"
		if run != nil {
			status = run.Status
		}
		cmd.PrintErrf("TimedOut: run %s still %s after %s; check later with: ragctl status %s\n",
			id, status, opts.timeout, id)
		return err
	}
	if err != nil {
		return err
	}
	return printRun(cmd, opts, run)
}

func printRun(cmd *cobra.Command, opts *globalOptions, run *client.Run) error {
	if opts.json {
		if err := printJSON(cmd, run); err != nil {
			return err
		}
		return terminalError(run)
	}

	cmd.Printf("Run:    %s\n", run.ID)
	cmd.Printf("Kind:   %s\n", run.Kind)
	cmd.Printf("Status: %s\n", run.Status)

	switch run.Status {
	case client.StatusSucceeded:
		return printOutput(cmd, run)
	case client.StatusFailed:
		if run.Error != nil {
			cmd.Printf("Failed: %s at step %q: %s\n", run.Error.Kind, run.Error.Step, run.Error.Message)
		}
		printPartial(cmd, run)
	}
	return terminalError(run)
}

func printOutput(cmd *cobra.Command, run *client.Run) error {
	switch run.Kind {
	case "query":
		var res client.QueryResult
		if err := run.DecodeOutput(&res); err != nil {
			return err
		}
		cmd.Println()
		cmd.Println(res.Answer)
		cmd.Println()
		cmd.Printf("Sources (%d chunks): %s\n", res.NumContext, strings.Join(res.Sources, ", "))
	case "ingest":
		var res client.IngestResult
		if err := run.DecodeOutput(&res); err != nil {
			return err
		}
		cmd.Printf("Ingested: %d chunks\n", res.Ingested)
	default:
		cmd.Printf("Output: %s\n", run.Output)
	}
	return nil
}

func printPartial(cmd *cobra.Command, run *client.Run) {
	var partial client.QueryPartial
	ok, err := run.DecodePartial(&partial)
	if err != nil || !ok {
		return
	}
	cmd.Printf("Sources found before failure (%d chunks): %s\n",
		partial.NumContext, strings.Join(partial.Sources, ", "))
}

// terminalError turns failed and cancelled runs into a non-zero exit.
func terminalError(run *client.Run) error {
	switch run.Status {
	case client.StatusFailed, client.StatusCancelled:
		return fmt.Errorf("run %s %s: %w", run.ID, run.Status, errRunFailed)
	default:
		return nil
	}
}
