// Package completion provides shell completion functionality for the CLI.
package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/cache"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/config"
)

// CompletionFunc is the signature cobra expects for dynamic completion.
type CompletionFunc func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)

// Lister is the part of the backend completion reads from.
type Lister interface {
	ListDatasources(ctx context.Context) ([]client.Datasource, error)
	ListDashboards(ctx context.Context) ([]client.Dashboard, error)
}

// ValidOutputFormats returns valid values for --output flag completion.
func ValidOutputFormats() []string {
	return []string{"table", "json", "yaml"}
}

// OutputFormatCompletionFunc completes --output.
func OutputFormatCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return filterCompletions(ValidOutputFormats(), toComplete), cobra.ShellCompDirectiveNoFileComp
	}
}

// NoCompletion disables file completion.
func NoCompletion() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// DatasourceIDsCompletionFunc completes datasource IDs, described by name.
func DatasourceIDsCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return complete(cmd, toComplete, "datasource-ids", func(ctx context.Context, l Lister) ([]string, error) {
			list, err := l.ListDatasources(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(list))
			for _, d := range list {
				out = append(out, describe(d.ID, d.Name))
			}
			return out, nil
		})
	}
}

// DashboardIDsCompletionFunc completes dashboard IDs, described by name.
func DashboardIDsCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return complete(cmd, toComplete, "dashboard-ids", func(ctx context.Context, l Lister) ([]string, error) {
			list, err := l.ListDashboards(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(list))
			for _, d := range list {
				out = append(out, describe(d.ID, d.Name))
			}
			return out, nil
		})
	}
}

// SectionIDsCompletionFunc completes the section IDs of the dashboard given
// by the --dashboard flag.
func SectionIDsCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		dashboardID, _ := cmd.Flags().GetString("dashboard")
		if dashboardID == "" {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return complete(cmd, toComplete, "section-ids-"+dashboardID, func(ctx context.Context, l Lister) ([]string, error) {
			return SectionIDs(ctx, l, dashboardID)
		})
	}
}

// SectionIDs lists the sections of dashboardID as completion entries.
func SectionIDs(ctx context.Context, l Lister, dashboardID string) ([]string, error) {
	list, err := l.ListDashboards(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if d.ID != dashboardID {
			continue
		}
		out := make([]string, 0, len(d.Sections))
		for _, s := range d.Sections {
			out = append(out, describe(s.ID, s.Name))
		}
		return out, nil
	}
	return nil, fmt.Errorf("dashboard %s not found", dashboardID)
}

// complete serves a cached list when possible and otherwise loads it through
// the backend. Failures yield no completions rather than an error.
func complete(cmd *cobra.Command, toComplete, key string, load func(context.Context, Lister) ([]string, error)) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	fetch := func() ([]string, error) {
		c, err := client.New(client.Options{ServerURL: cfg.ServerURL, APIKey: cfg.APIKey, Timeout: cfg.CompletionTimeout()})
		if err != nil {
			return nil, err
		}
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, cfg.CompletionTimeout())
		defer cancel()
		return load(ctx, c)
	}

	values, err := Cached(cfg, key, fetch)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return filterCompletions(values, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// Cached returns fetch's result through the completion cache when caching is
// enabled in cfg.
func Cached(cfg *config.Config, key string, fetch func() ([]string, error)) ([]string, error) {
	if !cfg.Cache.Enabled {
		return fetch()
	}
	m, err := cache.NewManager("", cfg.CacheTTL())
	if err != nil {
		return fetch()
	}
	return m.GetOrLoad(key, fetch)
}

// RememberDatasources stores list as the datasource completion entries.
func RememberDatasources(cfg *config.Config, list []client.Datasource) error {
	if !cfg.Cache.Enabled {
		return nil
	}
	m, err := cache.NewManager("", cfg.CacheTTL())
	if err != nil {
		return err
	}
	values := make([]string, 0, len(list))
	for _, d := range list {
		values = append(values, describe(d.ID, d.Name))
	}
	return m.Set("datasource-ids", values)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithEnv(config.DiscoverPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerURL = server
	}
	return cfg, nil
}

func describe(id, name string) string {
	if name == "" {
		return id
	}
	return id + "\t" + name
}

// filterCompletions keeps entries whose value (before any tab-separated
// description) starts with toComplete.
func filterCompletions(completions []string, toComplete string) []string {
	if toComplete == "" {
		return completions
	}

	filtered := make([]string, 0)
	for _, c := range completions {
		value, _, _ := strings.Cut(c, "\t")
		if strings.HasPrefix(value, toComplete) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
