// Package testutil provides testing utilities for studio-cli.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// CreateTempConfig writes content to a temporary config file that is removed
// when the test finishes.
func CreateTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

// ConfigYAML renders a minimal config pointing at serverURL.
func ConfigYAML(serverURL, datasourceID string) string {
	return fmt.Sprintf(`server_url: %s
api_key: test-key
datasource_id: %s
page_size: 10
`, serverURL, datasourceID)
}

// WithConfigFile creates a temporary config file and points STUDIO_CONFIG at
// it for the duration of the test.
func WithConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := CreateTempConfig(t, content)
	t.Setenv("STUDIO_CONFIG", path)
	return path
}

// IsolateHome points HOME at a temporary directory so tests never touch the
// real ~/.studio.
func IsolateHome(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("STUDIO_CONFIG", "")
	return dir
}
