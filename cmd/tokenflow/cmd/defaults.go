package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vnykmshr/tokenflow/pkg/config"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/retry"
)

// defaultDocument is a starting point for new configuration files.
func defaultDocument() *config.Document {
	cfg := retry.DefaultConfig()
	cfg.Config = bucket.Config{RefillRate: 10, Capacity: 10, PollInterval: 0.1}

	doc := config.NewDocument()
	doc.Limiters["default"] = cfg
	return doc
}

func newDefaultsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print a document with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return defaultDocument().Encode(cmd.OutOrStdout(), config.Format(format))
		},
	}
	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "output format: yaml or json")
	return cmd
}
