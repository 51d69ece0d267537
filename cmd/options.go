package cmd

import (
	"fmt"

	"github.com/alDuncanson/tsne/tsne"

	"github.com/spf13/cobra"
)

// optionFlags are the optimizer flags shared by fit and demo. They override
// the values of --config, which in turn override the defaults.
type optionFlags struct {
	config            string
	dims              int
	perplexity        float64
	tolerance         float64
	metric            string
	init              string
	earlyExaggeration float64
	learningRate      string
	maxIter           int
	momentumThreshold int
	startingMomentum  float64
	endingMomentum    float64
	seed              int64
	gradient          string
	itersCheck        int
	verbose           int
}

func (flags *optionFlags) register(cmd *cobra.Command) {
	defaults := tsne.DefaultOptions()

	cmd.Flags().StringVar(&flags.config, "config", "", "YAML options file")
	cmd.Flags().IntVarP(&flags.dims, "dims", "d", defaults.NDimensions, "Embedding dimensions")
	cmd.Flags().Float64VarP(&flags.perplexity, "perplexity", "p", defaults.Perplexity, "Target perplexity")
	cmd.Flags().Float64Var(&flags.tolerance, "perplexity-tolerance", defaults.PerplexityTolerance, "Allowed error of the perplexity search")
	cmd.Flags().StringVar(&flags.metric, "metric", string(defaults.Metric), "Input metric: euclidean or precomputed")
	cmd.Flags().StringVar(&flags.init, "init", string(defaults.Init.Strategy), "Initialization: random or pca")
	cmd.Flags().Float64Var(&flags.earlyExaggeration, "early-exaggeration", defaults.EarlyExaggeration, "Early exaggeration factor")
	cmd.Flags().StringVar(&flags.learningRate, "learning-rate", defaults.LearningRate.String(), "Learning rate or 'auto'")
	cmd.Flags().IntVar(&flags.maxIter, "max-iter", defaults.MaxIter, "Maximum iterations")
	cmd.Flags().IntVar(&flags.momentumThreshold, "momentum-threshold", defaults.MomentumThreshold, "Iteration that ends early exaggeration")
	cmd.Flags().Float64Var(&flags.startingMomentum, "starting-momentum", defaults.StartingMomentum, "Momentum before the threshold")
	cmd.Flags().Float64Var(&flags.endingMomentum, "ending-momentum", defaults.EndingMomentum, "Momentum after the threshold")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "Random seed (default: current time)")
	cmd.Flags().StringVar(&flags.gradient, "gradient", defaults.Gradient.String(), "Gradient formulation: direct, forces or forces_v2")
	cmd.Flags().IntVar(&flags.itersCheck, "iters-check", defaults.ItersCheck, "Iterations between cost checks")
	cmd.Flags().CountVarP(&flags.verbose, "verbose", "v", "Verbose output (repeat for progress)")
}

// options resolves the final tsne.Options. Only flags the user set override
// the file.
func (flags *optionFlags) options(cmd *cobra.Command) (tsne.Options, error) {
	options := tsne.DefaultOptions()
	if flags.config != "" {
		loaded, err := tsne.LoadOptions(flags.config)
		if err != nil {
			return tsne.Options{}, err
		}
		options = loaded
	}

	changed := cmd.Flags().Changed

	if changed("dims") {
		options.NDimensions = flags.dims
	}
	if changed("perplexity") {
		options.Perplexity = flags.perplexity
	}
	if changed("perplexity-tolerance") {
		options.PerplexityTolerance = flags.tolerance
	}
	if changed("metric") {
		options.Metric = tsne.Metric(flags.metric)
	}
	if changed("init") {
		options.Init = tsne.Initialization{Strategy: tsne.InitStrategy(flags.init)}
	}
	if changed("early-exaggeration") {
		options.EarlyExaggeration = flags.earlyExaggeration
	}
	if changed("learning-rate") {
		rate, err := tsne.ParseLearningRate(flags.learningRate)
		if err != nil {
			return tsne.Options{}, err
		}
		options.LearningRate = rate
	}
	if changed("max-iter") {
		options.MaxIter = flags.maxIter
	}
	if changed("momentum-threshold") {
		options.MomentumThreshold = flags.momentumThreshold
	}
	if changed("starting-momentum") {
		options.StartingMomentum = flags.startingMomentum
	}
	if changed("ending-momentum") {
		options.EndingMomentum = flags.endingMomentum
	}
	if changed("seed") {
		seed := flags.seed
		options.Seed = &seed
	}
	if changed("gradient") {
		mode, err := tsne.ParseGradientMode(flags.gradient)
		if err != nil {
			return tsne.Options{}, err
		}
		options.Gradient = mode
	}
	if changed("iters-check") {
		options.ItersCheck = flags.itersCheck
	}
	if changed("verbose") {
		options.Verbose = flags.verbose
	}

	options.Logger = newLogger(cmd.ErrOrStderr(), options.Verbose)

	if err := options.Validate(); err != nil {
		return tsne.Options{}, fmt.Errorf("options: %w", err)
	}
	return options, nil
}
