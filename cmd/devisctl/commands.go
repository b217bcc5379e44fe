package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
	"github.com/dgallion1/devistree/internal/extract"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize FILE",
	Short: "Give every line item an identifier and flag items with issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		out := editor.Normalize(doc, nil)
		log.Debug("normalized", "changed", out != doc)
		return emitDocument(cmd, args[0], out)
	},
}

var getCmd = &cobra.Command{
	Use:   "get FILE PATH",
	Short: "Print the value at a path such as devis_produits[0].label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		v, ok := doctree.GetString(doc, args[1])
		if !ok {
			return fmt.Errorf("no value at %q", args[1])
		}
		return writeValue(cmd.OutOrStdout(), v)
	},
}

var flagString bool

var setCmd = &cobra.Command{
	Use:   "set FILE PATH VALUE",
	Short: "Set the value at a path",
	Long: "VALUE is read as JSON when it parses (12.5, true, null, {\"a\": 1}); otherwise, " +
		"or with --string, it is stored as text. Missing containers on the path are created.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		out := doctree.SetString(doc, args[1], parseValue(args[2], flagString))
		if out == doc {
			return fmt.Errorf("cannot set %q", args[1])
		}
		return emitDocument(cmd, args[0], out)
	},
}

func init() {
	setCmd.Flags().BoolVar(&flagString, "string", false, "store VALUE as text even if it parses as JSON")
}

var deleteCmd = &cobra.Command{
	Use:   "delete FILE PATH",
	Short: "Remove the value at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		out := doctree.DeleteString(doc, args[1])
		if out == doc {
			return fmt.Errorf("no value at %q", args[1])
		}
		return emitDocument(cmd, args[0], out)
	},
}

var moveCmd = &cobra.Command{
	Use:   "move FILE FROM TO INDEX",
	Short: "Move the array element at FROM into the array at TO",
	Long:  "INDEX is the position in TO after the element has been removed from FROM.",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[3])
		}
		out := editor.Move(doc, doctree.ParsePath(args[1]), doctree.ParsePath(args[2]), index)
		if out == doc {
			return errors.New("move not applied: FROM must be an array element and TO an array")
		}
		return emitDocument(cmd, args[0], editor.FlagIssues(out))
	},
}

var appendCmd = &cobra.Command{
	Use:   "append FILE ARRAY",
	Short: "Append an empty line item to the array at ARRAY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		p := doctree.ParsePath(args[1])
		arr, ok := doctree.Get(doc, p)
		if !ok || !arr.IsArray() {
			return fmt.Errorf("%q is not an array", args[1])
		}
		out := doctree.Insert(doc, p, arr.Len(), devis.NewLineItem(editor.NewID()))
		return emitDocument(cmd, args[0], out)
	},
}

var (
	flagExpand []string
	flagAll    bool
)

var treeCmd = &cobra.Command{
	Use:   "tree FILE",
	Short: "Render the document as the editor shows it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		doc = editor.FlagIssues(doc)
		vs := editor.ViewState{Expanded: make(map[string]bool)}
		if flagAll {
			doctree.Walk(doc, func(p doctree.Path, n *doctree.Node) bool {
				if n.IsContainer() {
					vs.Expanded[p.String()] = true
				}
				return true
			})
		}
		for _, p := range flagExpand {
			vs.Expanded[doctree.ParsePath(p).String()] = true
		}
		rows := editor.Render(doc, vs)
		return writeRows(cmd.OutOrStdout(), rows)
	},
}

func init() {
	treeCmd.Flags().StringSliceVarP(&flagExpand, "expand", "e", nil, "paths of containers to expand")
	treeCmd.Flags().BoolVarP(&flagAll, "all", "a", false, "expand every container")
}

var flagStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check line item prices against the declared totals",
	Long: "Recomputes HT, TVA and TTC from the line items and marks every total or container " +
		"item that disagrees. With --write the marked document is saved; otherwise the report is printed.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument(cmd, args[0])
		if err != nil {
			return err
		}
		out, report := extract.CheckDevis(editor.EnsureIDs(doc, nil))
		out = editor.FlagIssues(out)
		for _, l := range report.Logs {
			log.Debug(strings.TrimSpace(l))
		}
		if flagWrite {
			if err := emitDocument(cmd, args[0], out); err != nil {
				return err
			}
		} else if err := writeReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if flagStrict && !report.OK() {
			return fmt.Errorf("%d price inconsistencies", len(report.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&flagStrict, "strict", false, "exit non-zero when inconsistencies are found")
}

// parseValue reads a command-line value as JSON, falling back to text.
func parseValue(s string, asString bool) *doctree.Node {
	if !asString {
		if v, err := doctree.Decode([]byte(s)); err == nil {
			return v
		}
	}
	return doctree.NewString(s)
}
