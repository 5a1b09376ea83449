package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
)

func newDatasourcesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasources",
		Aliases: []string{"ds"},
		Short:   "Manage datasources",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List datasources visible to the API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			c, err := opts.getClient(cfg, opts.logger(cfg))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			list, err := c.ListDatasources(commandContext(cmd))
			if err != nil {
				return fmt.Errorf("failed to list datasources: %w", err)
			}
			// Refresh completion so new datasources show up right away.
			_ = completion.RememberDatasources(cfg, list)

			out := cmd.OutOrStdout()
			if opts.output != "table" {
				return writeStructured(out, opts.output, list, opts.noColorFor(cfg, out))
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No datasources found")
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.Header("ID", "Name", "Type", "Description")
			for _, d := range list {
				if err := table.Append(d.ID, d.Name, d.Type, d.Description); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
			if cfg.DatasourceID != "" {
				fmt.Fprintf(out, "\nDefault datasource: %s\n", cfg.DatasourceID)
			}
			return nil
		},
	})
	return cmd
}

func newDashboardsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboards",
		Short: "Manage dashboards",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dashboards and their sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			c, err := opts.getClient(cfg, opts.logger(cfg))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			list, err := c.ListDashboards(commandContext(cmd))
			if err != nil {
				return fmt.Errorf("failed to list dashboards: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.output != "table" {
				return writeStructured(out, opts.output, list, opts.noColorFor(cfg, out))
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No dashboards found")
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.Header("ID", "Name", "Sections")
			for _, d := range list {
				sections := make([]string, 0, len(d.Sections))
				for _, s := range d.Sections {
					sections = append(sections, fmt.Sprintf("%s (%s)", s.Name, s.ID))
				}
				if err := table.Append(d.ID, d.Name, strings.Join(sections, ", ")); err != nil {
					return err
				}
			}
			return table.Render()
		},
	})
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
