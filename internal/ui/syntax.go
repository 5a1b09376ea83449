package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// SyntaxStyles contains styles for syntax highlighting.
type SyntaxStyles struct {
	Key     lipgloss.Style
	String  lipgloss.Style
	Number  lipgloss.Style
	Literal lipgloss.Style
}

// NewSyntaxStyles creates syntax styles based on color mode.
func NewSyntaxStyles(noColor bool) SyntaxStyles {
	if noColor {
		plain := lipgloss.NewStyle()
		return SyntaxStyles{Key: plain, String: plain, Number: plain, Literal: plain}
	}
	return SyntaxStyles{
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		String:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Number:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Literal: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

// FormatJSON pretty-prints data. Raw JSON values are re-indented as is, so
// dataframes keep their column order.
func FormatJSON(data any, noColor bool) (string, error) {
	var out []byte
	if raw, ok := data.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return "", fmt.Errorf("failed to indent JSON: %w", err)
		}
		out = buf.Bytes()
	} else {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		out = b
	}

	if noColor {
		return string(out) + "\n", nil
	}
	return highlightJSON(string(out), NewSyntaxStyles(false)) + "\n", nil
}

// highlightJSON colors the tokens of indented JSON. A string directly
// followed by a colon is a key.
func highlightJSON(src string, st SyntaxStyles) string {
	var sb strings.Builder
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, len(src))
			tok := src[i:j]
			if j < len(src) && src[j] == ':' {
				sb.WriteString(st.Key.Render(tok))
			} else {
				sb.WriteString(st.String.Render(tok))
			}
			i = j
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(src) && strings.IndexByte("0123456789.eE+-", src[j]) >= 0 {
				j++
			}
			sb.WriteString(st.Number.Render(src[i:j]))
			i = j
		case strings.HasPrefix(src[i:], "true"), strings.HasPrefix(src[i:], "null"):
			sb.WriteString(st.Literal.Render(src[i : i+4]))
			i += 4
		case strings.HasPrefix(src[i:], "false"):
			sb.WriteString(st.Literal.Render(src[i : i+5]))
			i += 5
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// FormatYAML renders data as YAML with highlighted keys.
func FormatYAML(data any, noColor bool) (string, error) {
	if raw, ok := data.(json.RawMessage); ok {
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return "", fmt.Errorf("failed to convert JSON: %w", err)
		}
		blockStyle(&node)
		data = &node
	}

	out, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if noColor {
		return string(out), nil
	}

	st := NewSyntaxStyles(false)
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	for i, line := range lines {
		key, rest, ok := strings.Cut(line, ":")
		if !ok || strings.Contains(key, "\"") || strings.Contains(key, "'") {
			continue
		}
		indent := key[:len(key)-len(strings.TrimLeft(key, " -"))]
		lines[i] = indent + st.Key.Render(strings.TrimLeft(key, " -")) + ":" + rest
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// blockStyle drops the flow and quoting styles a JSON source gives every
// node, so the output reads as ordinary block YAML.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
