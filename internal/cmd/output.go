package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

// writeStructured prints v as JSON or YAML. Values go through their JSON
// encoding first so both formats share field names and dataframes keep
// their column order.
func writeStructured(w io.Writer, format string, v any, noColor bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	var out string
	switch format {
	case "yaml":
		out, err = ui.FormatYAML(json.RawMessage(raw), noColor)
	default:
		out, err = ui.FormatJSON(json.RawMessage(raw), noColor)
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
