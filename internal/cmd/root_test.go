package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/testutil"
)

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Flags(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd, "root command should not be nil")

	serverFlag := cmd.PersistentFlags().Lookup("server")
	require.NotNil(t, serverFlag, "--server flag should be registered")
	assert.Equal(t, "string", serverFlag.Value.Type())

	outputFlag := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, outputFlag, "--output flag should be registered")
	assert.Equal(t, "table", outputFlag.DefValue)

	debugFlag := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, debugFlag, "--debug flag should be registered")
	assert.Equal(t, "bool", debugFlag.Value.Type())

	noColorFlag := cmd.PersistentFlags().Lookup("no-color")
	require.NotNil(t, noColorFlag, "--no-color flag should be registered")
	assert.Equal(t, "bool", noColorFlag.Value.Type())
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ask", "stop", "sql", "widgets", "replay", "datasources", "dashboards", "config", "tui", "completion", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_Execution(t *testing.T) {
	testutil.IsolateHome(t)
	_, err := execute(t, "")
	assert.NoError(t, err, "executing root command should not error")
}

func TestRootCommand_FreshTreePerCall(t *testing.T) {
	a := NewRootCommand()
	require.NoError(t, a.ParseFlags([]string{"--server", "https://test.example.com", "--debug"}))
	assert.Equal(t, "https://test.example.com", a.PersistentFlags().Lookup("server").Value.String())

	b := NewRootCommand()
	assert.Empty(t, b.PersistentFlags().Lookup("server").Value.String())
	assert.Equal(t, "false", b.PersistentFlags().Lookup("debug").Value.String())
}

func TestRootCommand_InvalidOutput(t *testing.T) {
	testutil.IsolateHome(t)
	_, err := execute(t, "", "version", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestRootCommand_OutputFromEnv(t *testing.T) {
	testutil.IsolateHome(t)
	path := testutil.WithConfigFile(t, "server_url: https://env.example.com\n")
	t.Setenv("STUDIO_OUTPUT", "json")

	out, err := execute(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"server_url": "https://env.example.com"`)
}

func TestVersion(t *testing.T) {
	testutil.IsolateHome(t)
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Studio CLI")
	assert.Contains(t, out, "Version:    dev")
}

func TestCompletion_Bash(t *testing.T) {
	testutil.IsolateHome(t)
	out, err := execute(t, "", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")

	_, err = execute(t, "", "completion", "tcsh")
	assert.Error(t, err)
}
