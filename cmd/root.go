// Package cmd implements the docqa command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "docqa - question answering over your documents",
	Long: `docqa serves a REST API that answers questions about uploaded
documents. Documents are chunked, embedded with Gemini, and stored in
Qdrant; questions are answered from the most relevant passages, with
citations, or from general model knowledge when the documents have
nothing useful.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
