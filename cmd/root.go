// Package cmd provides the command line interface for the tsne binary.
package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A fresh tree is built per Execute so
// flag state never leaks between runs.
func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tsne",
		Short: "Exact t-SNE embeddings for vectors, texts and Qdrant collections",
		Long: `tsne embeds high-dimensional points in two or three dimensions with
exact t-distributed Stochastic Neighbor Embedding.

Points come from a CSV or JSON file, from texts embedded with Ollama, or from
a Qdrant collection. Coordinates are written as CSV or JSON and can be stored
back on the Qdrant points.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newFitCmd())
	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newVersionCmd(version))
	return rootCmd
}

// Execute runs the CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// newLogger returns a text logger on w. Verbosity 0 keeps only warnings.
func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	if verbose > 0 {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
