package cli

import (
	"github.com/spf13/cobra"
)

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID string
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [pdf-path]",
		Short: "Ingest a PDF into the vector collection",
		Long: `Sends an ingest event for a PDF the server can read. The document
is chunked, embedded and upserted; re-ingesting the same source replaces
its chunks in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			id, err := c.Ingest(cmd.Context(), args[0], sourceID)
			if err != nil {
				return err
			}
			if !wait {
				return printTriggered(cmd, opts, id)
			}
			return waitAndPrint(cmd, opts, c, id)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source identifier (default: the file name)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the run to finish")
	return cmd
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var (
		topK int
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question against the ingested documents",
		Long: `Sends a query event. The question is embedded, the top-k nearest
chunks are retrieved and a language model answers from them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			id, err := c.Query(cmd.Context(), args[0], topK)
			if err != nil {
				return err
			}
			if !wait {
				return printTriggered(cmd, opts, id)
			}
			return waitAndPrint(cmd, opts, c, id)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default: server setting)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the answer")
	return cmd
}
