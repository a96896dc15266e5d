// cmd/reviewscrapexter/remote.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/ReviewScrapexter/pkg/api"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const defaultServerURL = "http://localhost:8080"

// remoteFlags select the service a remote command talks to
type remoteFlags struct {
	server   string
	wait     bool
	interval time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command, withWait bool) {
	def := os.Getenv("REVIEWSCRAPEXTER_URL")
	if def == "" {
		def = defaultServerURL
	}
	cmd.PersistentFlags().StringVarP(&f.server, "server", "s", def, "service base URL (env REVIEWSCRAPEXTER_URL)")
	if withWait {
		cmd.PersistentFlags().BoolVarP(&f.wait, "wait", "w", false, "poll until the job finishes and print the result")
		cmd.PersistentFlags().DurationVar(&f.interval, "interval", 2*time.Second, "poll interval with --wait")
	}
}

func (f *remoteFlags) client() (*api.Client, error) {
	return api.NewClient(f.server)
}

func newSubmitCmd() *cobra.Command {
	remote := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to a running service",
		Long: `Submit a job to a running service and print its id. With --wait the
command polls until the job finishes and prints the final status document.`,
		Example: `  reviewscrapexter submit store -p "Acme Kettle" -u https://shop.example.com/kettle --wait`,
	}
	remote.register(cmd, true)

	cmd.AddCommand(sourceCommands(func(cmd *cobra.Command, source types.Source, f *requestFlags) error {
		if _, err := f.jobRequest(source); err != nil {
			return err
		}
		c, err := remote.client()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var resp api.SubmitResponse
		switch source {
		case types.SourceStore:
			resp, err = c.SubmitStore(ctx, f.store())
		case types.SourceCommunity:
			resp, err = c.SubmitCommunity(ctx, f.community())
		default:
			resp, err = c.SubmitShopping(ctx, f.shopping())
		}
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		if !remote.wait {
			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
			return nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "submitted %s\n", resp.JobID)
		return waitAndPrint(ctx, cmd, c, resp.JobID, remote.interval)
	})...)
	return cmd
}

func newStatusCmd() *cobra.Command {
	remote := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the status document of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			if remote.wait {
				return waitAndPrint(cmd.Context(), cmd, c, args[0], remote.interval)
			}
			doc, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	remote.register(cmd, true)
	return cmd
}

func newRevokeCmd() *cobra.Command {
	remote := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "revoke <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			if err := c.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
	remote.register(cmd, false)
	return cmd
}

func waitAndPrint(ctx context.Context, cmd *cobra.Command, c *api.Client, id string, interval time.Duration) error {
	doc, err := c.Wait(ctx, id, interval, func(s api.JobStatus) {
		printProgress(cmd.ErrOrStderr(), s)
	})
	if doc.Status.IsTerminal() {
		if perr := printJSON(cmd.OutOrStdout(), doc); perr != nil {
			return perr
		}
	}
	return err
}
