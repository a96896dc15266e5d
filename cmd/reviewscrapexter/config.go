// cmd/reviewscrapexter/config.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the file given with --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration file '%s' is valid\n", root.configPath)
			fmt.Fprintf(out, "  store: %s, archive: %s, validator: %s (enabled=%t), browser enabled=%t\n",
				cfg.Store.Type, cfg.Archive.Type, cfg.Validator.Provider, cfg.Validator.Enabled, cfg.Browser.Enabled)
			return nil
		},
	}

	template := &cobra.Command{
		Use:   "template",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("failed to marshal template to YAML: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(validate, template)
	return cmd
}
