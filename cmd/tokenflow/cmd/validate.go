package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/tokenflow/pkg/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check configuration files",
		Long: `Load each file and validate every limiter in it.
The first invalid file stops the command with a non-zero exit code.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				doc, err := config.LoadFile(path)
				if err == nil {
					err = doc.Validate()
				}
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d limiters)\n", path, len(doc.Limiters))
			}
			return nil
		},
	}
}
