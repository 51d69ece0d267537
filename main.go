// Package main provides the entry point for tsne, a command line tool that
// embeds high-dimensional vectors in two or three dimensions with exact t-SNE.
// Vectors come from files, from texts embedded with Ollama, or from a Qdrant
// collection.
package main

import (
	"os"

	"github.com/alDuncanson/tsne/cmd"
)

// version is set at build time via ldflags, defaults to "dev" for local builds
var version = "dev"

func main() {
	if err := cmd.Execute(version); err != nil {
		os.Exit(1)
	}
}
