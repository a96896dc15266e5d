// cmd/reviewscrapexter/root.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "reviewscrapexter",
		Short: "Asynchronous product review acquisition",
		Long: `ReviewScrapexter collects product reviews from retailer pages, community
forums and shopping comment panels, validates them with a language model and
serves the results as pollable jobs.

Run "serve" for the HTTP API, "collect" for a single in-process job, or
"submit" to drive a running service.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(versionLine() + "\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (defaults apply when omitted)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCollectCmd(opts),
		newSubmitCmd(),
		newStatusCmd(),
		newRevokeCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration file, applies flag overrides and validates the result
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
