package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Table is implemented by results that have a tabular rendering
type Table interface {
	Header() []string
	Rows() [][]string
}

// ValidateFormat rejects unknown output formats
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	}
	return NewError(ErrCodeInvalidInput, fmt.Sprintf("unsupported output format: %s", format), nil)
}

// Render writes v to w according to format. Values that do not implement Table are
// printed with %v in table mode.
func Render(w io.Writer, format string, v interface{}) error {
	switch format {
	case FormatJSON:
		return formatJSON(w, v)
	case FormatYAML:
		return formatYAML(w, v)
	case FormatTable:
		return formatTable(w, v)
	default:
		return ValidateFormat(format)
	}
}

// formatTable formats results as a table
func formatTable(w io.Writer, v interface{}) error {
	t, ok := v.(Table)
	if !ok {
		_, err := fmt.Fprintln(w, v)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := t.Header()
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	rule := make([]string, len(header))
	for i, h := range header {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// formatJSON formats results as JSON
func formatJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatYAML formats results as YAML
func formatYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(v)
}
