package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
)

func newStopCmd(opts *rootOptions) *cobra.Command {
	var datasourceID string

	cmd := &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Stop a running datasource run",
		Long: `Ask the backend to stop a run. Events already streamed are kept; the
stream of the run ends once the backend closes it.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.NoCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			c, err := opts.getClient(cfg, opts.logger(cfg))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			ds := firstNonEmpty(datasourceID, cfg.DatasourceID)
			if ds == "" {
				return fmt.Errorf("datasource is required. Use --datasource or configure datasource_id")
			}

			ctx := commandContext(cmd)
			if err := c.StopRun(ctx, ds, args[0]); err != nil {
				return fmt.Errorf("failed to stop run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for run %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasourceID, "datasource", "d", "", "datasource ID (defaults to datasource_id from config)")
	_ = cmd.RegisterFlagCompletionFunc("datasource", completion.DatasourceIDsCompletionFunc())
	return cmd
}
