package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/config"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Configure the server URL, API key and defaults for the studio CLI",
	}
	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigSetServerCmd(opts),
		newConfigSetAPIKeyCmd(opts),
		newConfigSetDefaultsCmd(opts),
	)
	return cmd
}

// updateConfig loads the config file without environment overrides, applies
// change and saves it back.
func updateConfig(opts *rootOptions, change func(*config.Config)) (string, error) {
	path := config.DiscoverPath(opts.cfgFile)
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	change(cfg)
	if err := config.Save(cfg, path); err != nil {
		return "", fmt.Errorf("failed to save config: %w", err)
	}
	return path, nil
}

func newConfigSetServerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Set the studio server URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := args[0]
			path, err := updateConfig(opts, func(cfg *config.Config) { cfg.ServerURL = serverURL })
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL updated to: %s\n", serverURL)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}
}

func newConfigSetAPIKeyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-api-key <key>",
		Short: "Set the API key sent with every request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var masked string
			path, err := updateConfig(opts, func(cfg *config.Config) {
				cfg.APIKey = args[0]
				masked = cfg.MaskedAPIKey()
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key set to: %s\n", masked)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}
}

func newConfigSetDefaultsCmd(opts *rootOptions) *cobra.Command {
	var datasourceID, dashboardID, sectionID string
	var pageSize int

	cmd := &cobra.Command{
		Use:   "set-defaults",
		Short: "Set the default datasource, dashboard, section and page size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("datasource") && !flags.Changed("dashboard") && !flags.Changed("section") && !flags.Changed("page-size") {
				return fmt.Errorf("nothing to set. Use --datasource, --dashboard, --section or --page-size")
			}
			if flags.Changed("page-size") && pageSize <= 0 {
				return fmt.Errorf("--page-size must be positive")
			}
			path, err := updateConfig(opts, func(cfg *config.Config) {
				if flags.Changed("datasource") {
					cfg.DatasourceID = datasourceID
				}
				if flags.Changed("dashboard") {
					cfg.DashboardID = dashboardID
				}
				if flags.Changed("section") {
					cfg.SectionID = sectionID
				}
				if flags.Changed("page-size") {
					cfg.PageSize = pageSize
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasourceID, "datasource", "", "default datasource ID")
	cmd.Flags().StringVar(&dashboardID, "dashboard", "", "default dashboard ID")
	cmd.Flags().StringVar(&sectionID, "section", "", "default dashboard section ID")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "default rows per result page")
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DiscoverPath(opts.cfgFile)
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output != "table" {
				shown := *cfg
				shown.APIKey = cfg.MaskedAPIKey()
				return writeStructured(out, opts.output, shown, opts.noColorFor(cfg, out))
			}

			apiKey := "(not set)"
			if cfg.APIKey != "" {
				apiKey = cfg.MaskedAPIKey() + " (configured)"
			}
			fmt.Fprintln(out, "Current Configuration:")
			return ui.RenderKeyValues(out, [2]string{"Setting", "Value"}, [][2]string{
				{"Server URL", cfg.ServerURL},
				{"API Key", apiKey},
				{"Datasource ID", cfg.DatasourceID},
				{"Dashboard ID", cfg.DashboardID},
				{"Section ID", cfg.SectionID},
				{"Page Size", strconv.Itoa(cfg.PageSize)},
				{"Stream Timeout", orDefault(cfg.Stream.Timeout, "none")},
				{"Debug", strconv.FormatBool(cfg.Debug)},
				{"Config File", path},
			})
		},
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
