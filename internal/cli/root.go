// Package cli implements ragctl, the command-line front end of the ragflow
// HTTP API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragflow/internal/version"
	"github.com/kailas-cloud/ragflow/pkg/client"
)

const (
	defaultServer      = "http://localhost:8080"
	defaultWaitTimeout = 2 * time.Minute
)

// errRunFailed marks a run that finished without success; the details are
// already printed.
var errRunFailed = errors.New("run did not succeed")

type globalOptions struct {
	server  string
	apiKey  string
	timeout time.Duration
	json    bool
}

func (o *globalOptions) client() (*client.Client, error) {
	c, err := client.New(o.server, client.WithAPIKey(o.apiKey))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", o.server, err)
	}
	return c, nil
}

// NewRootCmd builds the ragctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Trigger and inspect ragflow pipeline runs",
		Long: `ragctl sends ingest and query events to a ragflow server and
reports on the resulting runs. Events return a run id immediately;
pass --wait to poll until the run finishes.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("RAGFLOW_URL", defaultServer), "ragflow server URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("RAGFLOW_API_KEY"), "API key sent as a Bearer token")
	flags.DurationVar(&opts.timeout, "timeout", defaultWaitTimeout, "how long --wait polls before reporting TimedOut")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newIngestCmd(opts),
		newQueryCmd(opts),
		newStatusCmd(opts),
		newCancelCmd(opts),
	)
	return root
}

// Execute runs ragctl and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		if errors.Is(err, client.ErrTimedOut) {
			return 2
		}
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
