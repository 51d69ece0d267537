package tsne

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Metric names how Fit interprets its input.
type Metric string

const (
	// MetricEuclidean treats the input as an n×d point set.
	MetricEuclidean Metric = "euclidean"
	// MetricPrecomputed treats the input as an n×n distance matrix.
	MetricPrecomputed Metric = "precomputed"
)

func (metric Metric) normalized() Metric {
	return Metric(strings.ToLower(strings.TrimSpace(string(metric))))
}

// InitStrategy selects how the starting embedding is produced.
type InitStrategy string

const (
	// InitRandom draws every coordinate from a seeded standard normal.
	InitRandom InitStrategy = "random"
	// InitPCA projects the input onto its leading principal components.
	InitPCA InitStrategy = "pca"
)

// Initialization is either a named strategy or a caller-supplied embedding.
// The zero value means InitRandom.
type Initialization struct {
	Strategy  InitStrategy
	Embedding *mat.Dense
}

// RandomInit returns the random initialization.
func RandomInit() Initialization { return Initialization{Strategy: InitRandom} }

// PCAInit returns the PCA initialization.
func PCAInit() Initialization { return Initialization{Strategy: InitPCA} }

// EmbeddingInit starts the optimization from the given n×k matrix.
func EmbeddingInit(embedding *mat.Dense) Initialization {
	return Initialization{Embedding: embedding}
}

func (initialization Initialization) strategy() InitStrategy {
	if initialization.Strategy == "" {
		return InitRandom
	}
	return InitStrategy(strings.ToLower(string(initialization.Strategy)))
}

// UnmarshalYAML accepts either a strategy name or a sequence of rows.
func (initialization *Initialization) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		*initialization = Initialization{Strategy: InitStrategy(name)}
		return nil
	case yaml.SequenceNode:
		var rows [][]float64
		if err := node.Decode(&rows); err != nil {
			return err
		}
		embedding, err := denseFromRows(rows)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		*initialization = EmbeddingInit(embedding)
		return nil
	default:
		return fmt.Errorf("init: expected a strategy name or a matrix, got yaml kind %d", node.Kind)
	}
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("matrix is empty")
	}
	numberOfColumns := len(rows[0])
	data := make([]float64, 0, len(rows)*numberOfColumns)
	for i, row := range rows {
		if len(row) != numberOfColumns {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), numberOfColumns)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), numberOfColumns, data), nil
}

// LearningRate is either a fixed step size or "auto". The zero value is auto.
type LearningRate struct {
	value float64
	fixed bool
}

// AutoLearningRate derives the step size from the sample count at fit time.
func AutoLearningRate() LearningRate { return LearningRate{} }

// FixedLearningRate uses the given step size.
func FixedLearningRate(value float64) LearningRate {
	return LearningRate{value: value, fixed: true}
}

// IsAuto reports whether the rate is derived at fit time.
func (rate LearningRate) IsAuto() bool { return !rate.fixed }

// Value returns the fixed step size, or 0 for auto.
func (rate LearningRate) Value() float64 { return rate.value }

// resolve returns max(n / exaggeration, 50) for auto, the fixed value otherwise.
func (rate LearningRate) resolve(numberOfSamples int, earlyExaggeration float64) float64 {
	if rate.fixed {
		return rate.value
	}
	return math.Max(float64(numberOfSamples)/earlyExaggeration, 50)
}

func (rate LearningRate) String() string {
	if !rate.fixed {
		return "auto"
	}
	return strconv.FormatFloat(rate.value, 'g', -1, 64)
}

// ParseLearningRate accepts "auto" or a number.
func ParseLearningRate(text string) (LearningRate, error) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "auto") {
		return AutoLearningRate(), nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return LearningRate{}, configErrorf("learning_rate", "must be a number or 'auto', got %q", text)
	}
	return FixedLearningRate(value), nil
}

func (rate *LearningRate) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("learning_rate: expected a scalar")
	}
	parsed, err := ParseLearningRate(node.Value)
	if err != nil {
		return err
	}
	*rate = parsed
	return nil
}

func (rate LearningRate) MarshalYAML() (any, error) {
	if !rate.fixed {
		return "auto", nil
	}
	return rate.value, nil
}

func (mode *GradientMode) UnmarshalYAML(node *yaml.Node) error {
	return mode.UnmarshalText([]byte(node.Value))
}

// Options configures a TSne optimizer. Start from DefaultOptions and override
// what you need; Options are validated by New and frozen for every Fit.
type Options struct {
	NDimensions         int            `yaml:"n_dimensions"`
	Perplexity          float64        `yaml:"perplexity"`
	PerplexityTolerance float64        `yaml:"perplexity_tolerance"`
	Metric              Metric         `yaml:"metric"`
	Init                Initialization `yaml:"init"`
	EarlyExaggeration   float64        `yaml:"early_exaggeration"`
	LearningRate        LearningRate   `yaml:"learning_rate"`
	MaxIter             int            `yaml:"max_iter"`
	StartingMomentum    float64        `yaml:"starting_momentum"`
	EndingMomentum      float64        `yaml:"ending_momentum"`
	MomentumThreshold   int            `yaml:"momentum_threshold"`

	// Seed for the random initialization. nil means the current Unix time.
	Seed *int64 `yaml:"seed,omitempty"`

	// Verbose is 0 (silent), 1 (fit summary) or 2 (progress every ItersCheck
	// iterations). Higher values behave like 2.
	Verbose    int          `yaml:"verbose"`
	ItersCheck int          `yaml:"iters_check"`
	Gradient   GradientMode `yaml:"gradient"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		NDimensions:         2,
		Perplexity:          30,
		PerplexityTolerance: 1e-2,
		Metric:              MetricEuclidean,
		Init:                RandomInit(),
		EarlyExaggeration:   12,
		LearningRate:        AutoLearningRate(),
		MaxIter:             1000,
		StartingMomentum:    0.5,
		EndingMomentum:      0.8,
		MomentumThreshold:   250,
		Verbose:             0,
		ItersCheck:          50,
		Gradient:            GradientDirect,
	}
}

// ParseOptions decodes YAML on top of DefaultOptions.
func ParseOptions(data []byte) (Options, error) {
	options := DefaultOptions()
	if err := yaml.Unmarshal(data, &options); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	return options, nil
}

// LoadOptions reads a YAML options file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options: %w", err)
	}
	return ParseOptions(data)
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

func inOpenUnitInterval(value float64) bool {
	return value > 0 && value < 1
}

// Validate checks every option and returns the first violation.
func (options Options) Validate() error {
	if options.NDimensions < 1 {
		return configErrorf("n_dimensions", "must be a positive number, got %d", options.NDimensions)
	}

	switch {
	case !isFinite(options.Perplexity):
		return configErrorf("perplexity", "cannot be infinite or NaN")
	case options.Perplexity <= 0:
		return configErrorf("perplexity", "must be a positive number, got %g", options.Perplexity)
	}

	switch {
	case !isFinite(options.PerplexityTolerance):
		return configErrorf("perplexity_tolerance", "must be finite and not NaN")
	case options.PerplexityTolerance < 0:
		return configErrorf("perplexity_tolerance", "must be a positive number or 0, got %g", options.PerplexityTolerance)
	}

	metric := options.Metric.normalized()
	if metric != MetricEuclidean && metric != MetricPrecomputed {
		return configErrorf("metric", "only metrics accepted are 'euclidean' and 'precomputed', got %q", options.Metric)
	}

	if err := options.validateInit(metric); err != nil {
		return err
	}

	switch {
	case !isFinite(options.EarlyExaggeration):
		return configErrorf("early_exaggeration", "must be finite and not NaN")
	case options.EarlyExaggeration <= 0:
		return configErrorf("early_exaggeration", "must be positive, got %g", options.EarlyExaggeration)
	}

	if !options.LearningRate.IsAuto() {
		switch value := options.LearningRate.Value(); {
		case !isFinite(value):
			return configErrorf("learning_rate", "must be finite and not NaN")
		case value <= 0:
			return configErrorf("learning_rate", "must be positive, got %g", value)
		}
	}

	if options.MaxIter < 1 {
		return configErrorf("max_iter", "must be a positive number, got %d", options.MaxIter)
	}
	if !inOpenUnitInterval(options.StartingMomentum) {
		return configErrorf("starting_momentum", "must be strictly in the range (0, 1), got %g", options.StartingMomentum)
	}
	if !inOpenUnitInterval(options.EndingMomentum) {
		return configErrorf("ending_momentum", "must be strictly in the range (0, 1), got %g", options.EndingMomentum)
	}
	if options.MomentumThreshold < 0 || options.MomentumThreshold >= options.MaxIter {
		return configErrorf("momentum_threshold", "must be in range [0, %d), got %d", options.MaxIter, options.MomentumThreshold)
	}
	if options.Seed != nil && *options.Seed < 0 {
		return configErrorf("seed", "must be positive, got %d", *options.Seed)
	}
	if options.Verbose < 0 {
		return configErrorf("verbose", "must be positive, got %d", options.Verbose)
	}

	switch {
	case options.ItersCheck < 1:
		return configErrorf("iters_check", "must be at least 1, got %d", options.ItersCheck)
	case options.ItersCheck > options.MaxIter:
		return configErrorf("iters_check", "cannot be greater than max_iter (%d), got %d", options.MaxIter, options.ItersCheck)
	}

	if _, err := options.Gradient.MarshalText(); err != nil {
		return err
	}
	return nil
}

func (options Options) validateInit(metric Metric) error {
	if embedding := options.Init.Embedding; embedding != nil {
		_, numberOfColumns := embedding.Dims()
		if numberOfColumns != options.NDimensions {
			return configErrorf("init", "the initial embedding must have %d dimensions, got %d", options.NDimensions, numberOfColumns)
		}
		if !allFinite(embedding) {
			return configErrorf("init", "the initial embedding must not contain NaN or an infinite number")
		}
		return nil
	}

	switch options.Init.strategy() {
	case InitRandom:
		return nil
	case InitPCA:
		if metric == MetricPrecomputed {
			return configErrorf("init", "cannot be 'pca' when metric is 'precomputed'")
		}
		return nil
	default:
		return configErrorf("init", "only values accepted are 'random' and 'pca' or a matrix, got %q", options.Init.Strategy)
	}
}

func allFinite(matrix mat.Matrix) bool {
	numberOfRows, numberOfColumns := matrix.Dims()
	for i := 0; i < numberOfRows; i++ {
		for j := 0; j < numberOfColumns; j++ {
			if !isFinite(matrix.At(i, j)) {
				return false
			}
		}
	}
	return true
}
