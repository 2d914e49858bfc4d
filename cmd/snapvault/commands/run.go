package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newRunCommand(version string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one batch of pending captures",
		Long: `Run a single processing batch: list candidate captures in the inbox,
claim them, classify, route, apply destination writes, and archive.

Items that hit retryable errors stay partial and are picked up again on the
next invocation; nothing is ever processed twice.`,
		Example: `  # Process pending captures once
  snapvault run

  # Machine-readable summary
  snapvault run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, version, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.RunBatch(ctx)
			if summary != nil {
				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					_ = enc.Encode(summary)
				} else {
					a.tel.Logger.WithFields(map[string]interface{}{
						"found":     summary.Found,
						"processed": summary.Processed,
						"partial":   summary.Partial,
						"failed":    summary.Failed,
						"skipped":   summary.Skipped,
					}).Info("run finished")
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the batch summary as JSON")

	return cmd
}
