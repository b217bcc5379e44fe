package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagFormat  string
	flagWrite   bool
	flagVerbose bool
)

// log is replaced in PersistentPreRunE once --verbose is known.
var log = slog.New(slog.NewTextHandler(os.Stderr, nil))

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devisctl",
	Short: "Inspect and edit structured quote documents",
	Long: "devisctl reads a structured quote (JSON, or YAML for .yaml/.yml files), applies one " +
		"editor operation and prints the result. Use - to read JSON from stdin.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|yaml|text")
	rootCmd.PersistentFlags().BoolVarP(&flagWrite, "write", "w", false, "write the resulting document back to the input file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(normalizeCmd, getCmd, setCmd, deleteCmd, moveCmd, appendCmd, treeCmd, validateCmd)
}
