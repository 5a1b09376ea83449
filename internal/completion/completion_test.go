package completion

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/config"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/testutil"
)

type fakeLister struct {
	dashboards []client.Dashboard
	err        error
}

func (f fakeLister) ListDatasources(context.Context) ([]client.Datasource, error) {
	return nil, f.err
}

func (f fakeLister) ListDashboards(context.Context) ([]client.Dashboard, error) {
	return f.dashboards, f.err
}

func TestFilterCompletions(t *testing.T) {
	all := []string{"ds-1\tSales", "ds-2\tMarketing", "other"}
	assert.Equal(t, all, filterCompletions(all, ""))
	assert.Equal(t, []string{"ds-1\tSales", "ds-2\tMarketing"}, filterCompletions(all, "ds-"))
	assert.Empty(t, filterCompletions(all, "Sales"), "descriptions are not matched")
}

func TestSectionIDs(t *testing.T) {
	l := fakeLister{dashboards: []client.Dashboard{
		{ID: "d1", Sections: []client.Section{{ID: "s1", Name: "Top"}, {ID: "s2"}}},
	}}

	got, err := SectionIDs(context.Background(), l, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1\tTop", "s2"}, got)

	_, err = SectionIDs(context.Background(), l, "missing")
	assert.Error(t, err)

	_, err = SectionIDs(context.Background(), fakeLister{err: errors.New("offline")}, "d1")
	assert.Error(t, err)
}

func TestCached_Disabled(t *testing.T) {
	calls := 0
	cfg := config.Defaults()
	cfg.Cache.Enabled = false
	for i := 0; i < 2; i++ {
		_, err := Cached(cfg, "k", func() ([]string, error) { calls++; return []string{"x"}, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestDatasourceIDsCompletion(t *testing.T) {
	testutil.IsolateHome(t)
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"GET /api/datasources": testutil.WithJSONResponse(http.StatusOK, []map[string]any{
			{"id": "ds-1", "name": "Sales"},
			{"id": "other", "name": "Other"},
		}),
	})
	defer server.Close()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("server", "", "")
	require.NoError(t, cmd.Flags().Set("server", server.URL))
	cmd.SetContext(context.Background())

	got, directive := DatasourceIDsCompletionFunc()(cmd, nil, "ds")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Equal(t, []string{"ds-1\tSales"}, got)

	// The second lookup is served from the cache even with the server gone.
	server.Close()
	got, _ = DatasourceIDsCompletionFunc()(cmd, nil, "")
	assert.Len(t, got, 2)
}

func TestOutputFormatCompletion(t *testing.T) {
	got, _ := OutputFormatCompletionFunc()(nil, nil, "j")
	assert.Equal(t, []string{"json"}, got)
}
