package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
	"github.com/dgallion1/devistree/internal/extract"
)

var validFormats = map[string]bool{"json": true, "yaml": true, "text": true}

func validateFormat(f string) error {
	if !validFormats[f] {
		return fmt.Errorf("invalid --format %q: must be json, yaml or text", f)
	}
	return nil
}

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// loadDocument reads a quote from a file, or JSON from stdin for "-".
func loadDocument(cmd *cobra.Command, name string) (*doctree.Node, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var doc *doctree.Node
	if isYAMLFile(name) {
		doc, err = doctree.DecodeYAMLDocument(data)
	} else {
		doc, err = doctree.DecodeDocument(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	log.Debug("loaded document", "file", name, "bytes", len(data))
	return doc, nil
}

// emitDocument prints doc, or with --write saves it over the input file in
// the input's own format.
func emitDocument(cmd *cobra.Command, name string, doc *doctree.Node) error {
	if !flagWrite {
		return writeValue(cmd.OutOrStdout(), doc)
	}
	if name == "-" {
		return fmt.Errorf("--write needs a file, not stdin")
	}
	var buf bytes.Buffer
	var err error
	if isYAMLFile(name) {
		err = encodeYAML(&buf, doc)
	} else {
		err = encodeJSON(&buf, doc)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	log.Info("document written", "file", name)
	return nil
}

// writeValue prints a node in the selected format. The text format prints
// scalars bare and containers as YAML.
func writeValue(w io.Writer, v *doctree.Node) error {
	switch flagFormat {
	case "yaml":
		return encodeYAML(w, v)
	case "text":
		if !v.IsContainer() {
			fmt.Fprintln(w, scalarText(v))
			return nil
		}
		return encodeYAML(w, v)
	}
	return encodeJSON(w, v)
}

func encodeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func scalarText(v *doctree.Node) string {
	if s, ok := v.Text(); ok {
		return s
	}
	data, _ := v.MarshalJSON()
	return string(data)
}

// writeRows prints the rendered tree. The text format indents each row by
// depth and marks containers, failing items and draggable items.
func writeRows(w io.Writer, rows []editor.Row) error {
	switch flagFormat {
	case "yaml":
		return encodeYAML(w, rows)
	case "json":
		return encodeJSON(w, rows)
	}
	for _, r := range rows {
		indent := strings.Repeat("  ", r.Depth)
		marker := " "
		switch {
		case r.Kind != editor.RowScalar && r.Expanded:
			marker = "▾"
		case r.Kind != editor.RowScalar:
			marker = "▸"
		}
		line := indent + marker + " "
		switch r.Kind {
		case editor.RowScalar:
			line += r.Key + ": " + scalarText(r.Value)
		default:
			line += r.Label
		}
		switch r.Status {
		case editor.StatusFail:
			line += "  ✗"
		case editor.StatusPass:
			line += "  ✓"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// writeReport prints a validation report.
func writeReport(w io.Writer, r extract.Report) error {
	switch flagFormat {
	case "yaml":
		return encodeYAML(w, r)
	case "json":
		return encodeJSON(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TOTAL\tCOMPUTED\n")
	fmt.Fprintf(tw, "HT\t%.2f\n", r.ComputedTotalHT)
	fmt.Fprintf(tw, "TVA\t%.2f\n", r.ComputedTotalTVA)
	fmt.Fprintf(tw, "TTC\t%.2f\n", r.ComputedTotalTTC)
	fmt.Fprintf(tw, "ECO\t%.2f\n", r.ComputedTotalExtra)
	tw.Flush()
	if r.OK() {
		fmt.Fprintln(w, "\nno inconsistencies")
		return nil
	}
	fmt.Fprintf(w, "\n%d inconsistencies:\n", len(r.Errors))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tDETAIL")
	for _, e := range r.Errors {
		path := e.Path
		if path == "" {
			path = "(root)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", path, e.Kind, strings.TrimSpace(e.Log))
	}
	return tw.Flush()
}
