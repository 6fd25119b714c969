package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			run, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRun(cmd, opts, run)
		},
	}
}

func newCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [run-id]",
		Short: "Cancel a run at its next step",
		Long: `Requests cancellation of a pending or running run. A step already
executing completes; the run stops before the next one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd, res)
			}
			cmd.Printf("Cancel requested for %s (was %s)\n", res.ID, res.Status)
			return nil
		},
	}
}
