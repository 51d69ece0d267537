package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alDuncanson/tsne/dataimport"
	"github.com/alDuncanson/tsne/embedding"
	"github.com/alDuncanson/tsne/huggingface"
	"github.com/alDuncanson/tsne/ollama"
	"github.com/alDuncanson/tsne/qdrant"
	"github.com/alDuncanson/tsne/tsne"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultOllamaURL is the HTTP endpoint for the Ollama embedding service.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultEmbeddingModel is the Ollama model used for --texts.
	DefaultEmbeddingModel = "nomic-embed-text"

	// DefaultQdrantAddress is the gRPC endpoint for the Qdrant vector database.
	DefaultQdrantAddress = "localhost:6334"

	// DefaultDatasetRows caps the rows read from a Hugging Face dataset.
	DefaultDatasetRows = 500
)

// Embedding backends for --embedder.
const (
	EmbedderOllama      = "ollama"
	EmbedderHuggingFace = "huggingface"
)

var errSource = errors.New("exactly one of --input, --texts, --hf-dataset or --qdrant-collection is required")

type fitFlags struct {
	optionFlags

	input  string
	texts  string
	output string

	returnLast bool

	embedder  string
	ollamaURL string
	model     string

	hfDataset      string
	hfConfig       string
	hfSplit        string
	hfColumn       string
	hfLimit        int
	hfToken        string
	hfDatasetsURL  string
	hfInferenceURL string

	qdrantCollection string
	qdrantAddress    string
	qdrantLimit      int
	writeBack        bool
}

func newFitCmd() *cobra.Command {
	flags := &fitFlags{}

	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Embed a point set with t-SNE",
		Long: `Embed a point set with exact t-SNE and write the coordinates.

Exactly one source is required:
  --input FILE              CSV or JSON point set
  --texts FILE              CSV or JSON texts, embedded first
  --hf-dataset NAME         texts from a Hugging Face dataset column, embedded first
  --qdrant-collection NAME  vectors scrolled from a Qdrant collection

Examples:
  tsne fit --input points.csv --perplexity 10 --output embedding.json
  tsne fit --texts words.json --model nomic-embed-text -v
  tsne fit --hf-dataset stanfordnlp/imdb --hf-limit 300 --embedder huggingface
  tsne fit --qdrant-collection embeddings --write-back`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, flags)
		},
	}

	flags.optionFlags.register(fitCmd)

	fitCmd.Flags().StringVarP(&flags.input, "input", "i", "", "CSV or JSON point set")
	fitCmd.Flags().StringVar(&flags.texts, "texts", "", "CSV or JSON texts to embed")
	fitCmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (.csv or .json, default CSV on stdout)")
	fitCmd.Flags().BoolVar(&flags.returnLast, "return-last", false, "Return the final embedding instead of the lowest-cost one")
	fitCmd.Flags().StringVar(&flags.embedder, "embedder", EmbedderOllama, "Embedding backend for texts: ollama or huggingface")
	fitCmd.Flags().StringVar(&flags.ollamaURL, "ollama-url", DefaultOllamaURL, "Ollama server URL")
	fitCmd.Flags().StringVar(&flags.model, "model", DefaultEmbeddingModel, "Embedding model (huggingface default: "+huggingface.DefaultEmbeddingModel+")")
	fitCmd.Flags().StringVar(&flags.hfDataset, "hf-dataset", "", "Hugging Face dataset to read texts from")
	fitCmd.Flags().StringVar(&flags.hfConfig, "hf-config", "", "Dataset config (default: the config owning --hf-split)")
	fitCmd.Flags().StringVar(&flags.hfSplit, "hf-split", "train", "Dataset split")
	fitCmd.Flags().StringVar(&flags.hfColumn, "hf-column", "text", "Dataset column holding the texts")
	fitCmd.Flags().IntVar(&flags.hfLimit, "hf-limit", DefaultDatasetRows, "Maximum dataset rows read (0 reads the whole split)")
	fitCmd.Flags().StringVar(&flags.hfToken, "hf-token", "", "Hugging Face token (default: $HF_TOKEN)")
	fitCmd.Flags().StringVar(&flags.hfDatasetsURL, "hf-datasets-url", huggingface.DefaultDatasetsURL, "Dataset Viewer API URL")
	fitCmd.Flags().StringVar(&flags.hfInferenceURL, "hf-inference-url", huggingface.DefaultInferenceURL, "Inference API URL")
	fitCmd.Flags().StringVar(&flags.qdrantCollection, "qdrant-collection", "", "Qdrant collection to read vectors from")
	fitCmd.Flags().StringVar(&flags.qdrantAddress, "qdrant-addr", DefaultQdrantAddress, "Qdrant gRPC address")
	fitCmd.Flags().IntVar(&flags.qdrantLimit, "qdrant-limit", 0, "Maximum points read from Qdrant (0 reads all)")
	fitCmd.Flags().BoolVar(&flags.writeBack, "write-back", false, "Store coordinates on the Qdrant points")

	return fitCmd
}

// pointSource is the loaded input plus, for Qdrant, what write-back needs.
type pointSource struct {
	points       *dataimport.PointSet
	qdrantClient *qdrant.Client
	qdrantPoints []qdrant.Point
}

func (source *pointSource) Close() error {
	if source.qdrantClient == nil {
		return nil
	}
	return source.qdrantClient.Close()
}

func runFit(cmd *cobra.Command, flags *fitFlags) error {
	options, err := flags.options(cmd)
	if err != nil {
		return err
	}
	logger := options.Logger
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if flags.writeBack && flags.qdrantCollection == "" {
		return fmt.Errorf("--write-back requires --qdrant-collection")
	}
	format, err := dataimport.FormatFromPath(flags.output)
	if err != nil {
		return err
	}

	source, err := loadPointSource(ctx, cmd, flags, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	runID := uuid.NewString()
	rows, columns := source.points.Matrix.Dims()
	logger.Info("fit started",
		"run_id", runID,
		"points", rows,
		"features", columns,
		"n_dimensions", options.NDimensions,
		"perplexity", options.Perplexity,
		"gradient", options.Gradient,
	)

	optimizer, err := tsne.New(options)
	if err != nil {
		return err
	}
	coordinates, err := optimizer.Fit(source.points.Matrix, flags.returnLast)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	iteration, cost, err := optimizer.EmbeddingCostInfo()
	if err != nil {
		return err
	}
	logger.Info("fit finished",
		"run_id", runID,
		"seed", optimizer.Seed(),
		"iteration", iteration,
		"kl_divergence", cost,
	)

	if err := writeOutput(cmd.OutOrStdout(), flags.output, format, coordinates, source.points.Labels); err != nil {
		return err
	}

	if flags.writeBack {
		if err := source.qdrantClient.WriteCoordinates(ctx, source.qdrantPoints, coordinates, runID); err != nil {
			return fmt.Errorf("write back: %w", err)
		}
		logger.Info("coordinates stored", "run_id", runID, "collection", flags.qdrantCollection, "points", rows)
	}
	return nil
}

func loadPointSource(ctx context.Context, cmd *cobra.Command, flags *fitFlags, logger *slog.Logger) (*pointSource, error) {
	selected := 0
	for _, value := range []string{flags.input, flags.texts, flags.hfDataset, flags.qdrantCollection} {
		if value != "" {
			selected++
		}
	}
	if selected != 1 {
		return nil, errSource
	}

	switch {
	case flags.input != "":
		points, err := dataimport.LoadPoints(flags.input)
		if err != nil {
			return nil, fmt.Errorf("loading points: %w", err)
		}
		return &pointSource{points: points}, nil

	case flags.texts != "", flags.hfDataset != "":
		embedder, model, err := newEmbedder(cmd, flags)
		if err != nil {
			return nil, err
		}
		texts, origin, err := loadTexts(ctx, flags)
		if err != nil {
			return nil, err
		}
		if len(texts) == 0 {
			return nil, fmt.Errorf("no texts found in %s", origin)
		}

		logger.Info("embedding texts", "texts", len(texts), "source", origin, "embedder", flags.embedder, "model", model)
		points, err := embedTexts(ctx, embedder, texts)
		if err != nil {
			return nil, err
		}
		return &pointSource{points: points}, nil

	default:
		client, err := qdrant.NewClient(ctx, flags.qdrantAddress, flags.qdrantCollection)
		if err != nil {
			return nil, err
		}
		stored, err := client.ScrollAll(ctx, flags.qdrantLimit)
		if err != nil {
			client.Close()
			return nil, err
		}

		vectors, labels := qdrant.Vectors(stored)
		points, err := dataimport.FromVectors(vectors, labels)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("collection %q: %w", flags.qdrantCollection, err)
		}
		return &pointSource{points: points, qdrantClient: client, qdrantPoints: stored}, nil
	}
}

// loadTexts reads the texts of --texts or --hf-dataset and names where they
// came from.
func loadTexts(ctx context.Context, flags *fitFlags) ([]string, string, error) {
	if flags.texts != "" {
		texts, err := dataimport.LoadTexts(flags.texts)
		if err != nil {
			return nil, "", fmt.Errorf("loading texts: %w", err)
		}
		return texts, flags.texts, nil
	}

	client := huggingface.NewClient().WithBaseURL(flags.hfDatasetsURL)
	config := flags.hfConfig
	if config == "" {
		resolved, err := client.ResolveConfig(ctx, flags.hfDataset, flags.hfSplit)
		if err != nil {
			return nil, "", fmt.Errorf("dataset %q: %w", flags.hfDataset, err)
		}
		config = resolved
	}

	texts, err := client.FetchTexts(ctx, flags.hfDataset, config, flags.hfSplit, flags.hfColumn, flags.hfLimit)
	if err != nil {
		return nil, "", fmt.Errorf("dataset %q: %w", flags.hfDataset, err)
	}
	return texts, fmt.Sprintf("%s/%s/%s column %q", flags.hfDataset, config, flags.hfSplit, flags.hfColumn), nil
}

// newEmbedder builds the backend selected by --embedder and returns the model
// it will use.
func newEmbedder(cmd *cobra.Command, flags *fitFlags) (embedding.Embedder, string, error) {
	switch flags.embedder {
	case EmbedderOllama:
		return ollama.NewClient(flags.ollamaURL, flags.model), flags.model, nil
	case EmbedderHuggingFace:
		model := flags.model
		if !cmd.Flags().Changed("model") {
			model = huggingface.DefaultEmbeddingModel
		}
		client := huggingface.NewEmbeddingsClient(model, flags.hfToken).WithBaseURL(flags.hfInferenceURL)
		return client, model, nil
	default:
		return nil, "", fmt.Errorf("unknown embedder %q: expected %s or %s", flags.embedder, EmbedderOllama, EmbedderHuggingFace)
	}
}

// embedTexts turns texts into a point set labelled with the texts themselves.
func embedTexts(ctx context.Context, embedder embedding.Embedder, texts []string) (*dataimport.PointSet, error) {
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding texts: %w", err)
	}
	return dataimport.FromVectors(vectors, texts)
}

func writeOutput(stdout io.Writer, path string, format dataimport.Format, coordinates *mat.Dense, labels []string) error {
	if path == "" {
		return dataimport.WriteEmbedding(stdout, format, coordinates, labels)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := dataimport.WriteEmbedding(file, format, coordinates, labels); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
