package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var jsonOutput bool
	rootCmd := &cobra.Command{
		Use:          "docpipe",
		Short:        "Run documents through the processing pipeline",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]string{"version": bootstrap.Version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "docpipe %s\n", bootstrap.Version)
		},
	})
	rootCmd.AddCommand(newProcessCommand(&jsonOutput))
	return rootCmd
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
