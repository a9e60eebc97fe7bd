package output

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// writeYAML renders the envelope as YAML. The value goes through a JSON
// round-trip first so the yaml encoder sees the same field names and
// omissions the JSON output would have.
func (w *Writer) writeYAML(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return err
	}
	out, err := yaml.Marshal(plain)
	if err != nil {
		return err
	}
	_, err = w.opts.Writer.Write(out)
	return err
}

// writeText renders a human-readable view: summary line, then the data
// as a key/value table for objects, a numbered list for arrays, or the
// raw value for scalars.
func (w *Writer) writeText(v any) error {
	switch resp := v.(type) {
	case *Response:
		if resp.Summary != "" {
			fmt.Fprintln(w.opts.Writer, resp.Summary)
		}
		return w.writeTextData(resp.Data)
	case *ErrorResponse:
		fmt.Fprintf(w.opts.Writer, "Error: %s\n", resp.Error)
		if resp.Hint != "" {
			fmt.Fprintf(w.opts.Writer, "Hint: %s\n", resp.Hint)
		}
		return nil
	default:
		return w.writeJSON(v)
	}
}

func (w *Writer) writeTextData(data any) error {
	if data == nil {
		return nil
	}

	// Normalize typed structs to plain maps and slices.
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return err
	}

	switch d := plain.(type) {
	case map[string]any:
		w.renderKeyValueTable(d)
	case []any:
		for i, item := range d {
			fmt.Fprintf(w.opts.Writer, "  %d. %v\n", i+1, cellValue(item))
		}
	case string:
		fmt.Fprintln(w.opts.Writer, d)
	default:
		fmt.Fprintf(w.opts.Writer, "%v\n", d)
	}
	return nil
}

func (w *Writer) renderKeyValueTable(data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.NewWriter()
	t.SetOutputMirror(w.opts.Writer)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"KEY", "VALUE"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, cellValue(data[k])})
	}
	t.Render()
}

// cellValue flattens nested structures into a single table cell.
func cellValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		s := string(b)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
