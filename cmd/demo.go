package cmd

import (
	"fmt"
	"strconv"

	"github.com/alDuncanson/tsne/dataimport"
	"github.com/alDuncanson/tsne/synthetic"
	"github.com/alDuncanson/tsne/tsne"

	"github.com/spf13/cobra"
)

type demoFlags struct {
	optionFlags

	blobs      synthetic.BlobsConfig
	output     string
	returnLast bool
}

func newDemoCmd() *cobra.Command {
	flags := &demoFlags{blobs: synthetic.DefaultBlobsConfig()}

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Embed synthetic Gaussian blobs and report their separation",
		Long: `Generate well separated Gaussian blobs, embed them with t-SNE and print
the mean distance between points of the same blob and of different blobs.

When --max-iter is lowered the exaggeration phase and the cost check interval
are shortened to at most a quarter of the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, flags)
		},
	}

	flags.optionFlags.register(demoCmd)

	demoCmd.Flags().IntVar(&flags.blobs.Centers, "centers", flags.blobs.Centers, "Number of blobs")
	demoCmd.Flags().IntVar(&flags.blobs.PointsPerCenter, "points", flags.blobs.PointsPerCenter, "Points per blob")
	demoCmd.Flags().IntVar(&flags.blobs.Dimensions, "features", flags.blobs.Dimensions, "Dimensionality of the blobs")
	demoCmd.Flags().Float64Var(&flags.blobs.Separation, "separation", flags.blobs.Separation, "Distance between blob centers")
	demoCmd.Flags().Float64Var(&flags.blobs.Spread, "spread", flags.blobs.Spread, "Standard deviation of every blob")
	demoCmd.Flags().Int64Var(&flags.blobs.Seed, "blob-seed", flags.blobs.Seed, "Seed for the blob generator")
	demoCmd.Flags().StringVarP(&flags.output, "output", "o", "", "Also write the embedding (.csv or .json)")
	demoCmd.Flags().BoolVar(&flags.returnLast, "return-last", false, "Return the final embedding instead of the lowest-cost one")

	return demoCmd
}

func runDemo(cmd *cobra.Command, flags *demoFlags) error {
	points, labels, err := synthetic.Blobs(flags.blobs)
	if err != nil {
		return err
	}

	if err := shortenSchedule(cmd, flags.maxIter); err != nil {
		return err
	}
	options, err := flags.options(cmd)
	if err != nil {
		return err
	}

	optimizer, err := tsne.New(options)
	if err != nil {
		return err
	}
	embedding, err := optimizer.Fit(points, flags.returnLast)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	iteration, cost, err := optimizer.EmbeddingCostInfo()
	if err != nil {
		return err
	}

	inputWithin, inputBetween := synthetic.MeanDistances(points, labels)
	within, between := synthetic.MeanDistances(embedding, labels)

	out := cmd.OutOrStdout()
	rows, _ := points.Dims()
	fmt.Fprintf(out, "Points:              %d in %d blobs\n", rows, flags.blobs.Centers)
	fmt.Fprintf(out, "Input distances:     within %.3f, between %.3f\n", inputWithin, inputBetween)
	fmt.Fprintf(out, "Embedded distances:  within %.3f, between %.3f\n", within, between)
	fmt.Fprintf(out, "Separation ratio:    %.2f\n", between/within)
	fmt.Fprintf(out, "KL divergence:       %.4f at iteration %d (seed %d)\n", cost, iteration, optimizer.Seed())

	if flags.output == "" {
		return nil
	}
	format, err := dataimport.FormatFromPath(flags.output)
	if err != nil {
		return err
	}
	names := make([]string, len(labels))
	for i, label := range labels {
		names[i] = "blob-" + strconv.Itoa(label)
	}
	return writeOutput(out, flags.output, format, embedding, names)
}

// shortenSchedule fits the momentum threshold and the cost check interval
// into a lowered --max-iter unless the user set them explicitly.
func shortenSchedule(cmd *cobra.Command, maxIter int) error {
	if !cmd.Flags().Changed("max-iter") {
		return nil
	}
	defaults := tsne.DefaultOptions()

	if !cmd.Flags().Changed("momentum-threshold") {
		threshold := min(defaults.MomentumThreshold, maxIter/4)
		if err := cmd.Flags().Set("momentum-threshold", strconv.Itoa(threshold)); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("iters-check") {
		check := max(1, min(defaults.ItersCheck, maxIter/4))
		if err := cmd.Flags().Set("iters-check", strconv.Itoa(check)); err != nil {
			return err
		}
	}
	return nil
}
